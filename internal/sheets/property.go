package sheets

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Property is one project row of the sheet
type Property struct {
	ID       string
	RowIndex int
	Values   map[string]Value
}

// ItemID returns the stable identifier of the row at rowIndex
func ItemID(rowIndex int) string {
	return fmt.Sprintf("item-%d", rowIndex)
}

// NewProperty builds a property from raw cell strings keyed by field
func NewProperty(rowIndex int, cells map[string]string) Property {
	p := Property{
		ID:       ItemID(rowIndex),
		RowIndex: rowIndex,
		Values:   make(map[string]Value, len(cells)),
	}
	for field, raw := range cells {
		p.Values[field] = ParseValue(KindOf(field), raw)
	}
	return p
}

// Set replaces a cell, re-parsing it for the field's kind
func (p *Property) Set(field, raw string) {
	if p.Values == nil {
		p.Values = make(map[string]Value)
	}
	p.Values[field] = ParseValue(KindOf(field), raw)
}

// Raw returns the raw text of a field
func (p Property) Raw(field string) string {
	return p.Values[field].Raw
}

// Cells returns the raw cell strings keyed by field
func (p Property) Cells() map[string]string {
	out := make(map[string]string, len(p.Values))
	for field, v := range p.Values {
		out[field] = v.Raw
	}
	return out
}

// Clone returns a deep copy safe to hand to callers
func (p Property) Clone() Property {
	out := p
	out.Values = make(map[string]Value, len(p.Values))
	for k, v := range p.Values {
		out.Values[k] = v
	}
	return out
}

func (p Property) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(p.Values)+2)
	for field, v := range p.Values {
		flat[field] = v
	}
	flat["id"] = p.ID
	flat["rowIndex"] = p.RowIndex
	return json.Marshal(flat)
}

// Filter is a read-only projection over the canonical rows
type Filter struct {
	Category string
	Status   string
	Query    string
}

var searchFields = []string{NameField, "location", "vendor", "notes"}

// Match reports whether p passes every set criterion
func (f Filter) Match(p Property) bool {
	if f.Category != "" && !strings.EqualFold(p.Raw("category"), f.Category) {
		return false
	}
	if f.Status != "" && !strings.EqualFold(p.Raw("status"), f.Status) {
		return false
	}
	if f.Query != "" {
		q := strings.ToLower(f.Query)
		for _, field := range searchFields {
			if strings.Contains(strings.ToLower(p.Raw(field)), q) {
				return true
			}
		}
		return false
	}
	return true
}

// Apply returns the rows matching f without modifying the input
func (f Filter) Apply(rows []Property) []Property {
	out := make([]Property, 0, len(rows))
	for _, p := range rows {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}
