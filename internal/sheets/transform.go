package sheets

import "strings"

// Transform converts raw sheet rows into properties by fixed column
// position. firstRow is the sheet row number of rows[0]. Rows with an
// empty name cell are skipped; short rows read missing cells as "".
func Transform(rows [][]string, columns ColumnMap, firstRow int) []Property {
	fields := columns.Fields()
	out := make([]Property, 0, len(rows))

	for i, row := range rows {
		cells := make(map[string]string, len(fields))
		for _, field := range fields {
			letter, _ := columns.Letter(field)
			idx := ColumnIndex(letter)
			if idx < len(row) {
				cells[field] = row[idx]
			} else {
				cells[field] = ""
			}
		}
		if strings.TrimSpace(cells[NameField]) == "" {
			continue
		}
		out = append(out, NewProperty(firstRow+i, cells))
	}

	return out
}
