package sheets

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var rangePattern = regexp.MustCompile(`^([A-Z]{1,3})([1-9][0-9]*):([A-Z]{1,3})([1-9][0-9]*)?$`)

// Range is the A1 block read from the sheet, e.g. "A2:L" or "A2:L500"
type Range struct {
	StartColumn string
	StartRow    int
	EndColumn   string
	EndRow      int // 0 when the block is open-ended
}

// ParseRange parses an A1 range with both corners' columns and at least
// the start row.
func ParseRange(raw string) (Range, error) {
	m := rangePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(raw)))
	if m == nil {
		return Range{}, fmt.Errorf("malformed range %q", raw)
	}

	r := Range{StartColumn: m[1], EndColumn: m[3]}
	r.StartRow, _ = strconv.Atoi(m[2])
	if m[4] != "" {
		r.EndRow, _ = strconv.Atoi(m[4])
	}

	if ColumnIndex(r.EndColumn) < ColumnIndex(r.StartColumn) {
		return Range{}, fmt.Errorf("range %q ends before it starts", raw)
	}
	if r.EndRow != 0 && r.EndRow < r.StartRow {
		return Range{}, fmt.Errorf("range %q ends before it starts", raw)
	}
	return r, nil
}

// Contains reports whether a column letter falls inside the range
func (r Range) Contains(letter string) bool {
	idx := ColumnIndex(strings.ToUpper(letter))
	return idx >= ColumnIndex(r.StartColumn) && idx <= ColumnIndex(r.EndColumn)
}

// CheckColumns verifies that every mapped column is read by the range.
// Cells are located by absolute column position, so the range must start
// at column A.
func (r Range) CheckColumns(columns ColumnMap) error {
	if r.StartColumn != "A" {
		return fmt.Errorf("range must start at column A, not %s", r.StartColumn)
	}
	for _, field := range columns.Fields() {
		letter, _ := columns.Letter(field)
		if !r.Contains(letter) {
			return fmt.Errorf("field %q is mapped to column %s outside %s:%s", field, letter, r.StartColumn, r.EndColumn)
		}
	}
	return nil
}
