package sheets

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// NameField is the primary name column; rows without it are dropped
const NameField = "propertyName"

var columnLetterPattern = regexp.MustCompile(`^[A-Z]{1,3}$`)

// ColumnMap maps field names to spreadsheet column letters
type ColumnMap struct {
	letters map[string]string
	fields  map[string]string
}

// ParseColumnMap parses "field=LETTER" pairs separated by commas and checks
// that every editable field is mapped to a distinct, well-formed column.
func ParseColumnMap(raw string) (ColumnMap, error) {
	pairs := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		field, letter, ok := strings.Cut(part, "=")
		if !ok {
			return ColumnMap{}, fmt.Errorf("malformed entry %q", part)
		}
		field = strings.TrimSpace(field)
		if _, dup := pairs[field]; dup {
			return ColumnMap{}, fmt.Errorf("field %q mapped twice", field)
		}
		pairs[field] = strings.ToUpper(strings.TrimSpace(letter))
	}
	return NewColumnMap(pairs)
}

// NewColumnMap validates a field to column letter table
func NewColumnMap(pairs map[string]string) (ColumnMap, error) {
	m := ColumnMap{
		letters: make(map[string]string, len(pairs)),
		fields:  make(map[string]string, len(pairs)),
	}

	for field, letter := range pairs {
		if field == "" {
			return ColumnMap{}, errors.New("empty field name")
		}
		if !columnLetterPattern.MatchString(letter) {
			return ColumnMap{}, fmt.Errorf("field %q: invalid column letter %q", field, letter)
		}
		if other, taken := m.fields[letter]; taken {
			return ColumnMap{}, fmt.Errorf("column %s used by both %q and %q", letter, other, field)
		}
		m.letters[field] = letter
		m.fields[letter] = field
	}

	var missing []string
	for _, field := range EditableFields() {
		if _, ok := m.letters[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return ColumnMap{}, fmt.Errorf("unmapped fields: %s", strings.Join(missing, ", "))
	}

	return m, nil
}

// Letter returns the column letter for a field
func (m ColumnMap) Letter(field string) (string, bool) {
	letter, ok := m.letters[field]
	return letter, ok
}

// Field returns the field stored in a column
func (m ColumnMap) Field(letter string) (string, bool) {
	field, ok := m.fields[strings.ToUpper(letter)]
	return field, ok
}

// Fields returns the mapped fields ordered by column position
func (m ColumnMap) Fields() []string {
	out := make([]string, 0, len(m.letters))
	for field := range m.letters {
		out = append(out, field)
	}
	sort.Slice(out, func(i, j int) bool {
		return ColumnIndex(m.letters[out[i]]) < ColumnIndex(m.letters[out[j]])
	})
	return out
}

// ColumnIndex converts a column letter to its zero-based position (A=0, AA=26)
func ColumnIndex(letter string) int {
	idx := 0
	for _, r := range letter {
		idx = idx*26 + int(r-'A'+1)
	}
	return idx - 1
}
