package contenthash

import (
	"testing"

	"github.com/ignite/sheetguard/internal/workbook"
	"github.com/stretchr/testify/assert"
)

func row(index int, values map[string]any) workbook.Row {
	return workbook.Row{Index: index, Values: values}
}

func TestTableStable(t *testing.T) {
	a := &workbook.Table{Rows: []workbook.Row{
		row(1, map[string]any{"email": "a@b.com", "score": 95.0}),
		row(2, map[string]any{"email": "c@d.com", "score": 80.0}),
	}}
	b := &workbook.Table{Rows: []workbook.Row{
		row(1, map[string]any{"score": 95.0, "email": "a@b.com"}),
		row(2, map[string]any{"score": 80.0, "email": "c@d.com"}),
	}}

	assert.Equal(t, Table(a), Table(b), "column map ordering must not affect the digest")
}

func TestTableCellDifferenceChangesDigest(t *testing.T) {
	base := &workbook.Table{Rows: []workbook.Row{
		row(1, map[string]any{"email": "a@b.com", "score": 95.0}),
	}}
	changed := &workbook.Table{Rows: []workbook.Row{
		row(1, map[string]any{"email": "a@b.com", "score": 96.0}),
	}}

	assert.NotEqual(t, Table(base), Table(changed))
}

func TestTableRowOrderMatters(t *testing.T) {
	a := &workbook.Table{Rows: []workbook.Row{
		row(1, map[string]any{"v": "x"}),
		row(2, map[string]any{"v": "y"}),
	}}
	b := &workbook.Table{Rows: []workbook.Row{
		row(1, map[string]any{"v": "y"}),
		row(2, map[string]any{"v": "x"}),
	}}

	assert.NotEqual(t, Table(a), Table(b))
}

func TestTableTypeDistinguished(t *testing.T) {
	asString := &workbook.Table{Rows: []workbook.Row{row(1, map[string]any{"v": "true"})}}
	asBool := &workbook.Table{Rows: []workbook.Row{row(1, map[string]any{"v": true})}}

	assert.NotEqual(t, Table(asString), Table(asBool))
}

func TestFileIDDeterministic(t *testing.T) {
	table := &workbook.Table{Rows: []workbook.Row{row(1, map[string]any{"a": 1.0})}}

	id1 := FileID(Table(table))
	id2 := FileID(Table(table))

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, len("file_")+16)
}
