package table

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := DecodeRecords(strings.NewReader(`[
		{"Name":"John","Age":25,"City":"New York","Salary":50000},
		{"Name":"Alice","Age":30,"City":"London","Salary":60000},
		{"Name":"Bob","Age":35,"City":"Paris","Salary":75000}
	]`))
	require.NoError(t, err)
	return tbl
}

func TestDecodeRecordsKeepsColumnOrder(t *testing.T) {
	tbl := sampleTable(t)
	require.Equal(t, []string{"Name", "Age", "City", "Salary"}, tbl.ColumnFields())
	require.Equal(t, 3, tbl.RowCount())
}

func TestEditCell(t *testing.T) {
	tbl := sampleTable(t)
	id, err := tbl.RowID(0)
	require.NoError(t, err)

	old, applied, err := tbl.EditCell(id, "Salary", float64(70000))
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, float64(50000), old)

	v, err := tbl.Cell(id, "Salary")
	require.NoError(t, err)
	require.Equal(t, float64(70000), v)
}

func TestEditCellUnknownColumnIsDropped(t *testing.T) {
	tbl := sampleTable(t)
	id, err := tbl.RowID(0)
	require.NoError(t, err)

	_, applied, err := tbl.EditCell(id, "Nope", "x")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, []string{"Name", "Age", "City", "Salary"}, tbl.ColumnFields())
}

func TestEditCellAtOutOfRange(t *testing.T) {
	tbl := sampleTable(t)
	_, _, err := tbl.EditCellAt(3, "Name", "x")
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestAddColumnBackfillsEmptyString(t *testing.T) {
	tbl := sampleTable(t)
	name := tbl.AddColumn("")
	require.Equal(t, "New Column 1", name)
	for _, rec := range tbl.Records() {
		require.Equal(t, "", rec["New Column 1"])
	}
}

func TestAddColumnCollisionSuffixes(t *testing.T) {
	tbl := sampleTable(t)
	require.Equal(t, "Name", tbl.ColumnFields()[0])
	name := tbl.AddColumn("Name")
	require.Equal(t, "New Column 1", name)
	name = tbl.AddColumn("")
	require.Equal(t, "New Column 2", name)
	// the counter never resets, even after a removal
	require.NoError(t, tbl.RemoveColumn("New Column 2"))
	require.Equal(t, "New Column 3", tbl.AddColumn(""))
}

func TestAddRowAppendsEmptyRow(t *testing.T) {
	tbl := sampleTable(t)
	id := tbl.AddRow()
	require.Equal(t, 4, tbl.RowCount())
	got, err := tbl.RowID(3)
	require.NoError(t, err)
	require.Equal(t, id, got)
	for _, f := range tbl.ColumnFields() {
		v, err := tbl.Cell(id, f)
		require.NoError(t, err)
		require.Equal(t, "", v)
	}
}

func TestRenameColumnAtomic(t *testing.T) {
	tbl, err := DecodeRecords(strings.NewReader(`[{"Name":"John","City":"NY"}]`))
	require.NoError(t, err)

	require.NoError(t, tbl.RenameColumn("City", "Location"))
	require.Equal(t, []string{"Name", "Location"}, tbl.ColumnFields())
	require.Equal(t, 1, tbl.RowCount())
	for _, rec := range tbl.Records() {
		require.Contains(t, rec, "Location")
		require.NotContains(t, rec, "City")
		require.Equal(t, "NY", rec["Location"])
	}
}

func TestRenameColumnNoOps(t *testing.T) {
	tbl := sampleTable(t)
	require.NoError(t, tbl.RenameColumn("City", ""))
	require.NoError(t, tbl.RenameColumn("City", "City"))
	require.Equal(t, []string{"Name", "Age", "City", "Salary"}, tbl.ColumnFields())

	err := tbl.RenameColumn("Nope", "Else")
	require.ErrorIs(t, err, ErrUnknownColumn)
	err = tbl.RenameColumn("City", "Name")
	require.ErrorIs(t, err, ErrColumnExists)
}

func TestReorderColumnsHidesNotDeletes(t *testing.T) {
	tbl := sampleTable(t)
	tbl.ReorderColumns([]string{"Salary", "Name", "Ghost"})
	require.Equal(t, []string{"Salary", "Name"}, tbl.ColumnFields())

	// hidden column data survives and reappears if re-added by name
	require.NoError(t, tbl.InsertColumn("City"))
	id, err := tbl.RowID(0)
	require.NoError(t, err)
	v, err := tbl.Cell(id, "City")
	require.NoError(t, err)
	require.Equal(t, "New York", v)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tbl := sampleTable(t)
	var buf bytes.Buffer
	require.NoError(t, tbl.EncodeRecords(&buf, true))

	back, err := DecodeRecords(&buf)
	require.NoError(t, err)
	require.Equal(t, tbl.ColumnFields(), back.ColumnFields())
	require.Equal(t, tbl.Records(), back.Records())

	// row ids carried through the encoding
	want, err := tbl.RowID(1)
	require.NoError(t, err)
	got, err := back.RowID(1)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestIntegrity(t *testing.T) {
	tbl := sampleTable(t)
	require.NoError(t, tbl.CheckIntegrity())

	tbl.rows[1].ID = tbl.rows[0].ID
	require.ErrorIs(t, tbl.CheckIntegrity(), ErrDuplicateRowID)

	tbl.RegenerateRowIDs()
	require.NoError(t, tbl.CheckIntegrity())

	tbl.rows[2].ID = ""
	require.ErrorIs(t, tbl.CheckIntegrity(), ErrMissingRowID)
}

func TestCSVRoundTrip(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader("Name,Age\nJohn,25\nAlice,30\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"Name", "Age"}, tbl.ColumnFields())
	require.Equal(t, 2, tbl.RowCount())

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))
	require.Equal(t, "Name,Age\nJohn,25\nAlice,30\n", buf.String())
}

func TestCloneIsIndependent(t *testing.T) {
	tbl := sampleTable(t)
	clone := tbl.Clone()
	id, err := tbl.RowID(0)
	require.NoError(t, err)
	_, _, err = tbl.EditCell(id, "Name", "Changed")
	require.NoError(t, err)

	v, err := clone.Cell(id, "Name")
	require.NoError(t, err)
	require.Equal(t, "John", v)
}

func TestRemoveRow(t *testing.T) {
	tbl := sampleTable(t)
	id, err := tbl.RowID(1)
	require.NoError(t, err)
	require.NoError(t, tbl.RemoveRow(id))
	require.Equal(t, 2, tbl.RowCount())
	_, err = tbl.RowIndex(id)
	require.True(t, errors.Is(err, ErrUnknownRow))
}
