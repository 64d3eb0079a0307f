package target

import (
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPicklistOption_CellLinkShape(t *testing.T) {
	b, err := sonic.Marshal(LinkOption(CellLink{SheetID: 11, ColumnID: 22}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":{"objectType":"CELL_LINK","sheetId":11,"columnId":22}}`, string(b))

	var back PicklistOption
	require.NoError(t, sonic.Unmarshal(b, &back))
	require.NotNil(t, back.Link)
	assert.Equal(t, CellLink{SheetID: 11, ColumnID: 22}, *back.Link)
}

func TestObjectValue_Shapes(t *testing.T) {
	b, err := sonic.Marshal(MultiContact(Contact{Name: "Ada", Email: "ada@example.com"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"objectType":"MULTI_CONTACT","values":[{"objectType":"CONTACT","name":"Ada","email":"ada@example.com"}]}`, string(b))

	b, err = sonic.Marshal(MultiPicklistValue("Concrete", "Steel"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"objectType":"MULTI_PICKLIST","values":["Concrete","Steel"]}`, string(b))
}

func TestColumn_LinkedTo(t *testing.T) {
	ref := CellLink{SheetID: 1, ColumnID: 2}
	col := Column{Options: []PicklistOption{LinkOption(ref)}}
	assert.True(t, col.LinkedTo(ref))
	assert.False(t, col.LinkedTo(CellLink{SheetID: 1, ColumnID: 3}))
	assert.False(t, (&Column{Options: []PicklistOption{{Label: "Active"}}}).LinkedTo(ref))
}

func TestCell_Text(t *testing.T) {
	tests := []struct {
		name string
		cell Cell
		want string
	}{
		{name: "string", cell: Cell{Value: "Planning"}, want: "Planning"},
		{name: "float", cell: Cell{Value: 5.0}, want: "5"},
		{name: "display wins", cell: Cell{Value: 1.0, DisplayValue: "one"}, want: "one"},
		{name: "multi picklist", cell: Cell{ObjectValue: MultiPicklistValue("a", "b")}, want: "a, b"},
		{name: "multi contact falls back to email", cell: Cell{ObjectValue: MultiContact(Contact{Email: "x@y.z"})}, want: "x@y.z"},
		{name: "empty", cell: Cell{}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cell.Text())
		})
	}
}
