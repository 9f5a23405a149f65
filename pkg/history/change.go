package history

import (
	"time"
)

// Kind discriminates change records. cell_edit, add_column and add_row are
// recorded for live edits; the remove kinds only ever appear as
// compensating entries written by a revert.
type Kind string

const (
	KindCellEdit     Kind = "cell_edit"
	KindAddColumn    Kind = "add_column"
	KindAddRow       Kind = "add_row"
	KindRemoveRow    Kind = "remove_row"
	KindRemoveColumn Kind = "remove_column"
)

// Change is one atomic, revertible edit. Author name and color are
// snapshotted at record time so history stays meaningful after the
// collaborator disconnects. Changes are immutable once recorded.
type Change struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Author    string    `json:"author"`
	Color     string    `json:"color"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`

	// Row is the stable row id for cell_edit / add_row / remove_row.
	Row string `json:"row,omitempty"`
	// Column is the column name for cell_edit / add_column / remove_column.
	Column string `json:"column,omitempty"`
	// Old and New carry the cell values for cell_edit.
	Old any `json:"old,omitempty"`
	New any `json:"new,omitempty"`

	// Reverts holds the id of the change this entry compensates, if any.
	Reverts string `json:"reverts,omitempty"`
}

// Snapshot groups the changes recorded in the half-open interval
// [Start, End) into one restorable unit.
type Snapshot struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

// Covers reports whether ts falls inside the snapshot's interval.
func (s Snapshot) Covers(ts time.Time) bool {
	return !ts.Before(s.Start) && ts.Before(s.End)
}
