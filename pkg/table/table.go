package table

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrOutOfRange     = errors.New("row index out of range")
	ErrUnknownRow     = errors.New("unknown row id")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrColumnExists   = errors.New("column already exists")
	ErrDuplicateRowID = errors.New("duplicate row id")
	ErrMissingRowID   = errors.New("missing row id")
)

// Column is one displayed column. Field is the key used in row maps, Title
// is what the grid shows. The original editor keeps these equal and renames
// both together.
type Column struct {
	Field string `json:"field"`
	Title string `json:"title"`
}

// Row is one table row. The id is generated at creation time and is the
// canonical identity; positional indexes are a derived view.
type Row struct {
	ID    string
	Cells map[string]any
}

// Table is the canonical server-side state of the shared dataset: an ordered
// column list and an ordered row sequence. Table is not safe for concurrent
// use; the hosting process funnels all access through a single writer.
type Table struct {
	columns []Column
	rows    []Row

	// counter behind "New Column N" names. Monotonic per table, independent
	// of the current column count so removals don't cause reuse.
	newColumnCounter int
}

// New returns an empty table with the given columns in display order.
func New(columns ...string) *Table {
	t := &Table{}
	for _, c := range columns {
		t.columns = append(t.columns, Column{Field: c, Title: c})
	}
	return t
}

func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// ColumnFields returns the display-ordered column keys.
func (t *Table) ColumnFields() []string {
	out := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		out = append(out, c.Field)
	}
	return out
}

func (t *Table) RowCount() int {
	return len(t.rows)
}

// RowID resolves a positional index to the stable row id.
func (t *Table) RowID(index int) (string, error) {
	if index < 0 || index >= len(t.rows) {
		return "", fmt.Errorf("index %d with %d rows: %w", index, len(t.rows), ErrOutOfRange)
	}
	return t.rows[index].ID, nil
}

// RowIndex resolves a row id to its current position.
func (t *Table) RowIndex(rowID string) (int, error) {
	for i := range t.rows {
		if t.rows[i].ID == rowID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("row %q: %w", rowID, ErrUnknownRow)
}

// Cell returns the current value at (rowID, column).
func (t *Table) Cell(rowID, column string) (any, error) {
	i, err := t.RowIndex(rowID)
	if err != nil {
		return nil, err
	}
	if !t.hasColumn(column) {
		return nil, fmt.Errorf("column %q: %w", column, ErrUnknownColumn)
	}
	return t.rows[i].Cells[column], nil
}

func (t *Table) hasColumn(field string) bool {
	for _, c := range t.columns {
		if c.Field == field {
			return true
		}
	}
	return false
}

// EditCell sets (rowID, column) to value and returns the previous value.
// Edits naming a column that does not exist are dropped without error and
// without inventing the column; applied reports whether the table changed.
func (t *Table) EditCell(rowID, column string, value any) (old any, applied bool, err error) {
	i, err := t.RowIndex(rowID)
	if err != nil {
		return nil, false, err
	}
	if !t.hasColumn(column) {
		return nil, false, nil
	}
	old = t.rows[i].Cells[column]
	t.rows[i].Cells[column] = value
	return old, true, nil
}

// EditCellAt is EditCell addressed by position.
func (t *Table) EditCellAt(index int, column string, value any) (old any, applied bool, err error) {
	id, err := t.RowID(index)
	if err != nil {
		return nil, false, err
	}
	return t.EditCell(id, column, value)
}

// AddColumn appends a column and backfills every existing row with an empty
// string. An empty name, or one that collides with an existing column, is
// replaced with the next "New Column N" name. Returns the name actually used.
func (t *Table) AddColumn(name string) string {
	for name == "" || t.hasColumn(name) {
		t.newColumnCounter++
		name = fmt.Sprintf("New Column %d", t.newColumnCounter)
	}
	t.insertColumn(name)
	return name
}

// InsertColumn appends a column with exactly the given name, failing on
// collision. It is the replay-safe form of AddColumn.
func (t *Table) InsertColumn(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrUnknownColumn)
	}
	if t.hasColumn(name) {
		return fmt.Errorf("column %q: %w", name, ErrColumnExists)
	}
	t.insertColumn(name)
	return nil
}

func (t *Table) insertColumn(name string) {
	t.columns = append(t.columns, Column{Field: name, Title: name})
	for i := range t.rows {
		t.rows[i].Cells[name] = ""
	}
}

// AddRow appends a row with every column set to an empty string and returns
// its generated id. Rows are append-only; there is no insert-at-position.
func (t *Table) AddRow() string {
	return t.AddRowWithID(uuid.NewString())
}

// AddRowWithID is AddRow with a caller-chosen id, used when replaying
// recorded history so row identity is preserved.
func (t *Table) AddRowWithID(id string) string {
	cells := make(map[string]any, len(t.columns))
	for _, c := range t.columns {
		cells[c.Field] = ""
	}
	t.rows = append(t.rows, Row{ID: id, Cells: cells})
	return id
}

// RemoveRow deletes the row with the given id. Later rows shift up; their
// ids are unaffected.
func (t *Table) RemoveRow(rowID string) error {
	i, err := t.RowIndex(rowID)
	if err != nil {
		return err
	}
	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

// RemoveColumn drops a column from display order and deletes its values
// from every row.
func (t *Table) RemoveColumn(name string) error {
	idx := -1
	for i, c := range t.columns {
		if c.Field == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("column %q: %w", name, ErrUnknownColumn)
	}
	t.columns = append(t.columns[:idx], t.columns[idx+1:]...)
	for i := range t.rows {
		delete(t.rows[i].Cells, name)
	}
	return nil
}

// RenameColumn atomically re-keys a column across every row. The rename is
// all-or-nothing: after it returns, no row holds the old key and every row
// holds the new one. Renaming to the same or an empty name is a no-op.
func (t *Table) RenameColumn(oldName, newName string) error {
	if newName == "" || newName == oldName {
		return nil
	}
	idx := -1
	for i, c := range t.columns {
		if c.Field == oldName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("column %q: %w", oldName, ErrUnknownColumn)
	}
	if t.hasColumn(newName) {
		return fmt.Errorf("column %q: %w", newName, ErrColumnExists)
	}
	t.columns[idx] = Column{Field: newName, Title: newName}
	for i := range t.rows {
		t.rows[i].Cells[newName] = t.rows[i].Cells[oldName]
		delete(t.rows[i].Cells, oldName)
	}
	return nil
}

// ReorderColumns sets the display order to the given sequence, ignoring
// names that don't match an existing column. Existing columns omitted from
// the order are hidden: they leave the display order but their values stay
// on every row and come back if the column is re-added by name.
func (t *Table) ReorderColumns(order []string) {
	byField := make(map[string]Column, len(t.columns))
	for _, c := range t.columns {
		byField[c.Field] = c
	}
	next := make([]Column, 0, len(order))
	for _, f := range order {
		if c, ok := byField[f]; ok {
			next = append(next, c)
			delete(byField, f)
		}
	}
	t.columns = next
}

// Clone returns a deep copy. Used to derive restored states without
// touching the live table.
func (t *Table) Clone() *Table {
	out := &Table{
		columns:          make([]Column, len(t.columns)),
		rows:             make([]Row, 0, len(t.rows)),
		newColumnCounter: t.newColumnCounter,
	}
	copy(out.columns, t.columns)
	for _, r := range t.rows {
		cells := make(map[string]any, len(r.Cells))
		for k, v := range r.Cells {
			cells[k] = v
		}
		out.rows = append(out.rows, Row{ID: r.ID, Cells: cells})
	}
	return out
}

// CheckIntegrity reports duplicate or missing row ids. Both are recoverable
// with RegenerateRowIDs rather than fatal.
func (t *Table) CheckIntegrity() error {
	seen := make(map[string]struct{}, len(t.rows))
	for i, r := range t.rows {
		if r.ID == "" {
			return fmt.Errorf("row %d: %w", i, ErrMissingRowID)
		}
		if _, ok := seen[r.ID]; ok {
			return fmt.Errorf("row %d id %q: %w", i, r.ID, ErrDuplicateRowID)
		}
		seen[r.ID] = struct{}{}
	}
	return nil
}

// RegenerateRowIDs assigns fresh ids to every row, recovering from an
// integrity fault at the cost of invalidating outstanding row references.
func (t *Table) RegenerateRowIDs() {
	for i := range t.rows {
		t.rows[i].ID = uuid.NewString()
	}
}
