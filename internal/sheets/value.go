package sheets

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is how a column's cells are interpreted
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindDate
)

// fieldKinds lists every editable field of the project sheet
var fieldKinds = map[string]Kind{
	NameField:   KindText,
	"category":  KindText,
	"location":  KindText,
	"floor":     KindText,
	"vendor":    KindText,
	"status":    KindText,
	"budget":    KindNumber,
	"spent":     KindNumber,
	"progress":  KindNumber,
	"startDate": KindDate,
	"dueDate":   KindDate,
	"notes":     KindText,
}

// EditableFields returns the known fields in a stable order
func EditableFields() []string {
	out := make([]string, 0, len(fieldKinds))
	for field := range fieldKinds {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// KindOf returns the kind of a field; unknown fields are text
func KindOf(field string) Kind {
	return fieldKinds[field]
}

var dateLayouts = []string{
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// Value is one parsed cell. Raw is always kept; Number or Date is set only
// when the cell parsed cleanly for its column kind.
type Value struct {
	Raw    string
	Number *decimal.Decimal
	Date   *time.Time
}

// ParseValue never fails: cells that do not parse keep the raw string
func ParseValue(kind Kind, raw string) Value {
	v := Value{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return v
	}

	switch kind {
	case KindNumber:
		cleaned := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(trimmed)
		if d, err := decimal.NewFromString(cleaned); err == nil {
			v.Number = &d
		}
	case KindDate:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, trimmed); err == nil {
				v.Date = &t
				break
			}
		}
	}
	return v
}

// MarshalJSON emits numbers as JSON numbers, dates as YYYY-MM-DD and
// everything else as the raw string.
func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.Number != nil:
		return []byte(v.Number.String()), nil
	case v.Date != nil:
		return json.Marshal(v.Date.Format("2006-01-02"))
	default:
		return json.Marshal(v.Raw)
	}
}

func (v Value) String() string {
	return v.Raw
}
