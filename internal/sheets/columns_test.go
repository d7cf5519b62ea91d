package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testColumnMap = "propertyName=A,category=B,location=C,floor=D,vendor=E,status=F," +
	"budget=G,spent=H,progress=I,startDate=J,dueDate=K,notes=L"

func TestParseColumnMap(t *testing.T) {
	m, err := ParseColumnMap(testColumnMap)
	require.NoError(t, err)

	letter, ok := m.Letter("vendor")
	assert.True(t, ok)
	assert.Equal(t, "E", letter)

	field, ok := m.Field("f")
	assert.True(t, ok)
	assert.Equal(t, "status", field)

	_, ok = m.Letter("colour")
	assert.False(t, ok)

	fields := m.Fields()
	require.Len(t, fields, 12)
	assert.Equal(t, NameField, fields[0])
	assert.Equal(t, "notes", fields[11])
}

func TestParseColumnMapErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing equals", "propertyName"},
		{"bad letter", "propertyName=1"},
		{"shared column", testColumnMap + ",extra=A"},
		{"field twice", testColumnMap + ",vendor=M"},
		{"unmapped field", "propertyName=A,category=B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseColumnMap(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestParseColumnMapExtraFields(t *testing.T) {
	m, err := ParseColumnMap(testColumnMap + ", contact = aa ")
	require.NoError(t, err)

	letter, ok := m.Letter("contact")
	assert.True(t, ok)
	assert.Equal(t, "AA", letter)
}

func TestColumnIndex(t *testing.T) {
	assert.Equal(t, 0, ColumnIndex("A"))
	assert.Equal(t, 11, ColumnIndex("L"))
	assert.Equal(t, 25, ColumnIndex("Z"))
	assert.Equal(t, 26, ColumnIndex("AA"))
	assert.Equal(t, 27, ColumnIndex("AB"))
	assert.Equal(t, 701, ColumnIndex("ZZ"))
}
