package history

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/RohanAdwankar/share-df/pkg/table"
)

var (
	ErrNoSuchSnapshot = errors.New("no such snapshot")
	ErrNoSuchChange   = errors.New("no such change")
	ErrCannotRevert   = errors.New("change cannot be reverted")
)

// RestorePolicy controls what happens to changes recorded after the restore
// point. The source behaviour is ambiguous, so both are supported and the
// default keeps the log append-only.
type RestorePolicy string

const (
	// RestoreAppend leaves the log untouched: the restored state simply
	// becomes current and later edits keep appending.
	RestoreAppend RestorePolicy = "append"
	// RestoreTruncate discards changes and snapshots after the restore
	// point, forking history at the restored state.
	RestoreTruncate RestorePolicy = "truncate"
)

const DefaultSnapshotInterval = time.Minute

// Options configure a Log. The zero value is usable.
type Options struct {
	// SnapshotInterval bounds the open snapshot window; recording a change
	// after the window has elapsed cuts a snapshot first. Defaults to
	// DefaultSnapshotInterval.
	SnapshotInterval time.Duration
	Policy           RestorePolicy
	// Store, if set, makes the log durable. Existing contents are loaded
	// into memory on construction.
	Store *Store
	// Now stubs the clock in tests.
	Now func() time.Time
}

// Log is the append-only record of every edit made to one shared table,
// partitioned into time-bounded snapshots. It keeps a deep copy of the
// table's initial state so any snapshot can be re-derived by replay.
// Like the table it describes, a Log is driven by a single writer.
type Log struct {
	base      *table.Table
	changes   []Change
	snapshots []Snapshot
	openStart time.Time
	interval  time.Duration
	policy    RestorePolicy
	store     *Store
	now       func() time.Time
}

// NewLog builds a log over the given initial table state.
func NewLog(base *table.Table, opts Options) (*Log, error) {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.Policy == "" {
		opts.Policy = RestoreAppend
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Log{
		base:     base.Clone(),
		interval: opts.SnapshotInterval,
		policy:   opts.Policy,
		store:    opts.Store,
		now:      opts.Now,
	}
	l.openStart = l.now()
	if l.store != nil {
		changes, snapshots, err := l.store.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load history store: %w", err)
		}
		l.changes = changes
		l.snapshots = snapshots
		if n := len(snapshots); n > 0 && snapshots[n-1].End.After(l.openStart) {
			l.openStart = snapshots[n-1].End
		}
	}
	return l, nil
}

func (l *Log) Policy() RestorePolicy { return l.policy }

// Rebase replaces the replay base after a wholesale table swap. The swap
// itself is not a replayable change, so snapshots restore relative to the
// swapped-in state from here on.
func (l *Log) Rebase(base *table.Table) {
	l.base = base.Clone()
}

// Len reports the total number of recorded changes, compensating entries
// included.
func (l *Log) Len() int { return len(l.changes) }

// Record appends a change, stamping id and timestamp if unset, and returns
// the stored entry. If the open snapshot window has elapsed it is cut
// first, so the new change lands in the next window.
func (l *Log) Record(c Change) (Change, error) {
	switch c.Kind {
	case KindCellEdit, KindAddColumn, KindAddRow, KindRemoveRow, KindRemoveColumn:
	default:
		return Change{}, fmt.Errorf("unknown change kind %q", c.Kind)
	}
	now := l.now()
	if now.Sub(l.openStart) >= l.interval {
		if _, err := l.CloseSnapshot(); err != nil {
			return Change{}, err
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = now
	}
	l.changes = append(l.changes, c)
	if l.store != nil {
		if err := l.store.AppendChange(c); err != nil {
			return Change{}, fmt.Errorf("failed to persist change: %w", err)
		}
	}
	return c, nil
}

// CloseSnapshot cuts the open window [openStart, now) into a snapshot and
// starts a new window. Windows with no changes advance the boundary without
// producing a snapshot; ok reports whether one was cut.
func (l *Log) CloseSnapshot() (Snapshot, error) {
	now := l.now()
	s := Snapshot{ID: uuid.NewString(), Start: l.openStart, End: now}
	for _, c := range l.changes {
		if s.Covers(c.Timestamp) {
			s.Count++
		}
	}
	l.openStart = now
	if s.Count == 0 {
		return Snapshot{}, nil
	}
	l.snapshots = append(l.snapshots, s)
	if l.store != nil {
		if err := l.store.AppendSnapshot(s); err != nil {
			return Snapshot{}, fmt.Errorf("failed to persist snapshot: %w", err)
		}
	}
	return s, nil
}

// Snapshots lists recorded snapshots, most recent first.
func (l *Log) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(l.snapshots))
	for i := len(l.snapshots) - 1; i >= 0; i-- {
		out = append(out, l.snapshots[i])
	}
	return out
}

// Changes returns every recorded change in record order.
func (l *Log) Changes() []Change {
	out := make([]Change, len(l.changes))
	copy(out, l.changes)
	return out
}

// ChangesIn lists the changes covered by a snapshot, ascending by
// timestamp.
func (l *Log) ChangesIn(snapshotID string) ([]Change, error) {
	snap, ok := l.findSnapshot(snapshotID)
	if !ok {
		return nil, fmt.Errorf("snapshot %q: %w", snapshotID, ErrNoSuchSnapshot)
	}
	var out []Change
	for _, c := range l.changes {
		if snap.Covers(c.Timestamp) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// FindChange looks a change up by id.
func (l *Log) FindChange(id string) (Change, bool) {
	for _, c := range l.changes {
		if c.ID == id {
			return c, true
		}
	}
	return Change{}, false
}

func (l *Log) findSnapshot(id string) (Snapshot, bool) {
	for _, s := range l.snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return Snapshot{}, false
}

// RestoreSnapshot derives the table state as of the snapshot's interval end
// by replaying the log over the initial state. Under RestoreTruncate the
// log additionally drops everything after the restore point; under the
// default RestoreAppend it is left intact.
func (l *Log) RestoreSnapshot(snapshotID string) (*table.Table, error) {
	snap, ok := l.findSnapshot(snapshotID)
	if !ok {
		return nil, fmt.Errorf("snapshot %q: %w", snapshotID, ErrNoSuchSnapshot)
	}
	restored := l.base.Clone()
	for _, c := range l.changes {
		if !c.Timestamp.Before(snap.End) {
			continue
		}
		applyChange(restored, c)
	}
	if l.policy == RestoreTruncate {
		kept := l.changes[:0]
		for _, c := range l.changes {
			if c.Timestamp.Before(snap.End) {
				kept = append(kept, c)
			}
		}
		l.changes = kept
		keptSnaps := l.snapshots[:0]
		for _, s := range l.snapshots {
			if !s.End.After(snap.End) {
				keptSnaps = append(keptSnaps, s)
			}
		}
		l.snapshots = keptSnaps
		l.openStart = snap.End
		if l.store != nil {
			if err := l.store.TruncateAfter(snap.End); err != nil {
				return nil, fmt.Errorf("failed to truncate history store: %w", err)
			}
		}
	}
	return restored, nil
}

// RevertChange applies the inverse of one recorded change to the live
// table and records a compensating entry attributed to the reverting
// session. The original entry is never removed. The revert either fully
// applies or, on error, leaves the table untouched.
func (l *Log) RevertChange(live *table.Table, changeID, sessionID, author, color string) (Change, error) {
	c, ok := l.FindChange(changeID)
	if !ok {
		return Change{}, fmt.Errorf("change %q: %w", changeID, ErrNoSuchChange)
	}
	comp := Change{
		SessionID: sessionID,
		Author:    author,
		Color:     color,
		Reverts:   c.ID,
	}
	switch c.Kind {
	case KindCellEdit:
		old, applied, err := live.EditCell(c.Row, c.Column, c.Old)
		if err != nil {
			return Change{}, fmt.Errorf("failed to revert cell edit: %w", err)
		}
		if !applied {
			return Change{}, fmt.Errorf("column %q gone: %w", c.Column, ErrCannotRevert)
		}
		comp.Kind = KindCellEdit
		comp.Row = c.Row
		comp.Column = c.Column
		comp.Old = old
		comp.New = c.Old
	case KindAddRow:
		if err := live.RemoveRow(c.Row); err != nil {
			return Change{}, fmt.Errorf("failed to revert added row: %w", err)
		}
		comp.Kind = KindRemoveRow
		comp.Row = c.Row
	case KindAddColumn:
		if err := live.RemoveColumn(c.Column); err != nil {
			return Change{}, fmt.Errorf("failed to revert added column: %w", err)
		}
		comp.Kind = KindRemoveColumn
		comp.Column = c.Column
	default:
		return Change{}, fmt.Errorf("kind %q: %w", c.Kind, ErrCannotRevert)
	}
	return l.Record(comp)
}

// applyChange replays one change forward onto t. Changes that no longer
// resolve (a row removed by a later compensator, a hidden column) are
// dropped, matching the live validation policy.
func applyChange(t *table.Table, c Change) {
	switch c.Kind {
	case KindCellEdit:
		_, _, _ = t.EditCell(c.Row, c.Column, c.New)
	case KindAddColumn:
		_ = t.InsertColumn(c.Column)
	case KindAddRow:
		_ = t.AddRowWithID(c.Row)
	case KindRemoveRow:
		_ = t.RemoveRow(c.Row)
	case KindRemoveColumn:
		_ = t.RemoveColumn(c.Column)
	}
}
