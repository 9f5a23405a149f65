package history

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RohanAdwankar/share-df/pkg/table"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) time.Time {
	f.t = f.t.Add(d)
	return f.t
}

func newTestLog(t *testing.T, opts Options) (*Log, *table.Table, *fakeClock) {
	t.Helper()
	tbl, err := table.DecodeRecords(strings.NewReader(`[
		{"Name":"John","Age":25,"City":"New York","Salary":50000},
		{"Name":"Alice","Age":30,"City":"London","Salary":60000}
	]`))
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	opts.Now = clock.now
	if opts.SnapshotInterval == 0 {
		opts.SnapshotInterval = time.Minute
	}
	log, err := NewLog(tbl, opts)
	require.NoError(t, err)
	return log, tbl, clock
}

func editCell(t *testing.T, log *Log, tbl *table.Table, row int, column string, value any) Change {
	t.Helper()
	id, err := tbl.RowID(row)
	require.NoError(t, err)
	old, applied, err := tbl.EditCell(id, column, value)
	require.NoError(t, err)
	require.True(t, applied)
	c, err := log.Record(Change{
		SessionID: "s1", Author: "Ada", Color: "#3b82f6",
		Kind: KindCellEdit, Row: id, Column: column, Old: old, New: value,
	})
	require.NoError(t, err)
	return c
}

func TestLogIsAppendOnly(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{})
	for i := 0; i < 5; i++ {
		clock.advance(time.Second)
		editCell(t, log, tbl, 0, "Salary", float64(50000+i))
	}
	require.Equal(t, 5, log.Len())

	// a revert records a compensating entry rather than removing history
	last := log.Changes()[4]
	_, err := log.RevertChange(tbl, last.ID, "s2", "Bob", "#ef4444")
	require.NoError(t, err)
	require.Equal(t, 6, log.Len())
	comp := log.Changes()[5]
	require.Equal(t, last.ID, comp.Reverts)
}

func TestLastWriterWinsBothRecorded(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{})
	clock.advance(time.Second)
	editCell(t, log, tbl, 0, "Salary", float64(70000))
	clock.advance(time.Second)
	editCell(t, log, tbl, 0, "Salary", float64(72000))

	id, err := tbl.RowID(0)
	require.NoError(t, err)
	v, err := tbl.Cell(id, "Salary")
	require.NoError(t, err)
	require.Equal(t, float64(72000), v)

	changes := log.Changes()
	require.Len(t, changes, 2)
	require.Equal(t, float64(70000), changes[0].New)
	require.Equal(t, float64(72000), changes[1].New)
	require.True(t, changes[0].Timestamp.Before(changes[1].Timestamp))
}

func TestSnapshotIntervalsAreHalfOpen(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{SnapshotInterval: time.Minute})
	clock.advance(time.Second)
	inFirst := editCell(t, log, tbl, 0, "Name", "Johnny")
	clock.advance(time.Second)
	alsoFirst := editCell(t, log, tbl, 1, "Name", "Ali")

	// crossing the window boundary cuts the first snapshot
	clock.advance(2 * time.Minute)
	inSecond := editCell(t, log, tbl, 0, "City", "Boston")

	snaps := log.Snapshots()
	require.Len(t, snaps, 1)
	require.Equal(t, 2, snaps[0].Count)

	got, err := log.ChangesIn(snaps[0].ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, inFirst.ID, got[0].ID)
	require.Equal(t, alsoFirst.ID, got[1].ID)

	require.False(t, snaps[0].Covers(inSecond.Timestamp))
	require.True(t, snaps[0].Covers(snaps[0].Start))
	require.False(t, snaps[0].Covers(snaps[0].End))

	_, err = log.ChangesIn("nope")
	require.ErrorIs(t, err, ErrNoSuchSnapshot)
}

func TestSnapshotsMostRecentFirst(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{SnapshotInterval: time.Minute})
	clock.advance(time.Second)
	editCell(t, log, tbl, 0, "Name", "a")
	clock.advance(2 * time.Minute)
	editCell(t, log, tbl, 0, "Name", "b")
	clock.advance(2 * time.Minute)
	editCell(t, log, tbl, 0, "Name", "c")

	snaps := log.Snapshots()
	require.Len(t, snaps, 2)
	require.True(t, snaps[0].End.After(snaps[1].End))
}

func TestRevertCellEditRestoresOnlyThatCell(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{})
	clock.advance(time.Second)
	c := editCell(t, log, tbl, 0, "Salary", float64(99000))
	clock.advance(time.Second)
	editCell(t, log, tbl, 1, "City", "Berlin")

	_, err := log.RevertChange(tbl, c.ID, "s2", "Bob", "#ef4444")
	require.NoError(t, err)

	id0, err := tbl.RowID(0)
	require.NoError(t, err)
	v, err := tbl.Cell(id0, "Salary")
	require.NoError(t, err)
	require.Equal(t, float64(50000), v)

	// the unrelated later edit is untouched
	id1, err := tbl.RowID(1)
	require.NoError(t, err)
	v, err = tbl.Cell(id1, "City")
	require.NoError(t, err)
	require.Equal(t, "Berlin", v)
}

func TestRevertAddRowAndAddColumn(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{})
	clock.advance(time.Second)
	rowID := tbl.AddRow()
	addRow, err := log.Record(Change{SessionID: "s1", Author: "Ada", Color: "#3b82f6", Kind: KindAddRow, Row: rowID})
	require.NoError(t, err)

	clock.advance(time.Second)
	name := tbl.AddColumn("Notes")
	addCol, err := log.Record(Change{SessionID: "s1", Author: "Ada", Color: "#3b82f6", Kind: KindAddColumn, Column: name})
	require.NoError(t, err)

	// a row added after the one being reverted stays put
	clock.advance(time.Second)
	laterID := tbl.AddRow()
	_, err = log.Record(Change{SessionID: "s1", Author: "Ada", Color: "#3b82f6", Kind: KindAddRow, Row: laterID})
	require.NoError(t, err)

	_, err = log.RevertChange(tbl, addRow.ID, "s1", "Ada", "#3b82f6")
	require.NoError(t, err)
	require.Equal(t, 3, tbl.RowCount())
	_, err = tbl.RowIndex(laterID)
	require.NoError(t, err)

	_, err = log.RevertChange(tbl, addCol.ID, "s1", "Ada", "#3b82f6")
	require.NoError(t, err)
	require.NotContains(t, tbl.ColumnFields(), "Notes")

	_, err = log.RevertChange(tbl, "missing", "s1", "Ada", "#3b82f6")
	require.ErrorIs(t, err, ErrNoSuchChange)
}

func TestRestoreSnapshotAppendPolicy(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{SnapshotInterval: time.Minute})
	clock.advance(time.Second)
	editCell(t, log, tbl, 0, "Salary", float64(70000))
	clock.advance(2 * time.Minute)
	editCell(t, log, tbl, 0, "Salary", float64(90000))

	snaps := log.Snapshots()
	require.Len(t, snaps, 1)

	restored, err := log.RestoreSnapshot(snaps[0].ID)
	require.NoError(t, err)
	id, err := restored.RowID(0)
	require.NoError(t, err)
	v, err := restored.Cell(id, "Salary")
	require.NoError(t, err)
	require.Equal(t, float64(70000), v)

	// append policy keeps later changes in the log
	require.Equal(t, 2, log.Len())

	_, err = log.RestoreSnapshot("missing")
	require.ErrorIs(t, err, ErrNoSuchSnapshot)
}

func TestRestoreSnapshotTruncatePolicy(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{SnapshotInterval: time.Minute, Policy: RestoreTruncate})
	clock.advance(time.Second)
	editCell(t, log, tbl, 0, "Salary", float64(70000))
	clock.advance(2 * time.Minute)
	editCell(t, log, tbl, 0, "Salary", float64(90000))

	snaps := log.Snapshots()
	require.Len(t, snaps, 1)
	_, err := log.RestoreSnapshot(snaps[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, log.Len())
	require.Equal(t, float64(70000), log.Changes()[0].New)
}

func TestRestoreReplaysStructuralChanges(t *testing.T) {
	log, tbl, clock := newTestLog(t, Options{SnapshotInterval: time.Minute})
	clock.advance(time.Second)
	rowID := tbl.AddRow()
	_, err := log.Record(Change{SessionID: "s1", Author: "Ada", Color: "#3b82f6", Kind: KindAddRow, Row: rowID})
	require.NoError(t, err)
	clock.advance(time.Second)
	editCell(t, log, tbl, 2, "Name", "Carol")

	clock.advance(2 * time.Minute)
	editCell(t, log, tbl, 2, "Name", "Dave")

	snaps := log.Snapshots()
	require.Len(t, snaps, 1)
	restored, err := log.RestoreSnapshot(snaps[0].ID)
	require.NoError(t, err)
	require.Equal(t, 3, restored.RowCount())
	v, err := restored.Cell(rowID, "Name")
	require.NoError(t, err)
	require.Equal(t, "Carol", v)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.sqlite3")
	store, err := OpenStore(path)
	require.NoError(t, err)

	log, tbl, clock := newTestLog(t, Options{Store: store, SnapshotInterval: time.Minute})
	clock.advance(time.Second)
	editCell(t, log, tbl, 0, "Salary", float64(70000))
	clock.advance(2 * time.Minute)
	editCell(t, log, tbl, 1, "City", "Rome")
	require.NoError(t, store.Close())

	store2, err := OpenStore(path)
	require.NoError(t, err)
	defer store2.Close()
	changes, snapshots, err := store2.Load()
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, float64(70000), changes[0].New)
	require.Equal(t, "Rome", changes[1].New)
	require.Len(t, snapshots, 1)
	require.Equal(t, 1, snapshots[0].Count)

	// a log resumed over the store sees the prior history
	tbl2 := tbl.Clone()
	resumed, err := NewLog(tbl2, Options{Store: store2, Now: clock.now})
	require.NoError(t, err)
	require.Equal(t, 2, resumed.Len())
	require.Len(t, resumed.Snapshots(), 1)
}
