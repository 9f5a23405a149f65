// Package reconcile applies incoming broadcast messages to a session's
// local copy of the shared table. Delivery is at-least-once and may echo a
// session's own edits back at it, so every apply path is idempotent and
// guarded by self-echo suppression and a short-lived duplicate cache.
package reconcile

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RohanAdwankar/share-df/pkg/protocol"
	"github.com/RohanAdwankar/share-df/pkg/table"
)

// DedupWindow is how long a message signature suppresses an identical
// repeat. Presence traffic is exempt since staleness self-corrects on the
// next move.
const DedupWindow = 300 * time.Millisecond

// View is the rendered grid, if any. SetCell is the cheap direct-update
// path; when it fails (cell not materialized yet) the reconciler falls
// back to Reload with the full local model, which must be functionally
// equivalent.
type View interface {
	SetCell(rowID, column string, value any) error
	Reload(records []map[string]any)
}

// Options configure a Reconciler. All fields are optional.
type Options struct {
	View View
	// OnResync is invoked when the host requests a full reload
	// (data_sync) or the local structure has drifted.
	OnResync func()
	// Now stubs the clock in tests.
	Now func() time.Time
}

// Reconciler holds one session's local view of the shared table and the
// suppression state needed to apply broadcasts safely. Safe for concurrent
// use.
type Reconciler struct {
	mu  sync.Mutex
	tbl *table.Table

	view     View
	onResync func()
	now      func() time.Time

	userID        string
	recentActions map[string]struct{}
	seen          map[string]time.Time

	users   map[string]protocol.Collaborator
	cursors map[string]protocol.CellRef
	focused map[string]string
}

// New builds a reconciler over the session's local table copy.
func New(tbl *table.Table, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		tbl:           tbl,
		view:          opts.View,
		onResync:      opts.OnResync,
		now:           opts.Now,
		recentActions: map[string]struct{}{},
		seen:          map[string]time.Time{},
		users:         map[string]protocol.Collaborator{},
		cursors:       map[string]protocol.CellRef{},
		focused:       map[string]string{},
	}
}

// RegisterAction notes an operation id generated for a local edit so the
// broadcast echo of that edit can be discarded.
func (r *Reconciler) RegisterAction(actionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recentActions[actionID] = struct{}{}
}

// UserID returns the session id assigned by the host's init message.
func (r *Reconciler) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userID
}

// Users lists the known collaborators.
func (r *Reconciler) Users() []protocol.Collaborator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Collaborator, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	return out
}

// Cursor returns the last known cursor cell for a collaborator.
func (r *Reconciler) Cursor(userID string) (protocol.CellRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[userID]
	return c, ok
}

// FocusedCell returns the cell a collaborator is editing, if any.
func (r *Reconciler) FocusedCell(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.focused[userID]
	return c, ok
}

// Table returns the local table. The caller must not mutate it while a
// listen loop is applying messages.
func (r *Reconciler) Table() *table.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tbl
}

// ResetTable swaps in a freshly fetched copy of the shared table, the
// completion of a resync round trip.
func (r *Reconciler) ResetTable(tbl *table.Table) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tbl = tbl
	if r.view != nil {
		r.view.Reload(tbl.Records())
	}
}

// Apply updates the local state from one broadcast message. It reports
// whether the message changed anything: self-echoes, duplicates inside
// the dedup window, and already-applied content all return false, so
// applying the same message twice observes the same state as applying it
// once.
func (r *Reconciler) Apply(msg protocol.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Transient() {
		r.applyPresence(msg)
		return true, nil
	}

	switch m := msg.(type) {
	case *protocol.Init:
		r.userID = m.UserID
		for _, c := range m.Collaborators {
			r.users[c.ID] = c
		}
		return true, nil
	case *protocol.UserJoined:
		r.users[m.User.ID] = m.User
		return true, nil
	case *protocol.UserLeft:
		// remove the collaborator and every presence artifact immediately
		delete(r.users, m.UserID)
		delete(r.cursors, m.UserID)
		delete(r.focused, m.UserID)
		return true, nil
	case *protocol.DataSync:
		if m.Reload && r.onResync != nil {
			r.onResync()
		}
		return true, nil
	case *protocol.UserFinished:
		return false, nil
	}

	if id := actionID(msg); id != "" {
		if _, ok := r.recentActions[id]; ok {
			// our own edit coming back; the optimistic update already
			// reflects it
			delete(r.recentActions, id)
			return false, nil
		}
	}
	if r.duplicate(msg) {
		return false, nil
	}
	return r.applyMutation(msg)
}

func (r *Reconciler) applyPresence(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.CursorPosition:
		if m.Position != nil {
			r.cursors[m.UserID] = *m.Position
		}
	case *protocol.CellFocus:
		r.focused[m.UserID] = m.CellID
	case *protocol.CellBlur:
		delete(r.focused, m.UserID)
	case *protocol.CursorMove:
		// legacy pixel channel carries no cell, nothing to track
	}
}

func actionID(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.CellEdit:
		return m.ActionID
	case *protocol.AddRow:
		return m.ActionID
	case *protocol.AddColumn:
		return m.ActionID
	case *protocol.ColumnReorder:
		return m.ActionID
	}
	return ""
}

// duplicate records the message signature and reports whether an identical
// one was seen inside the dedup window.
func (r *Reconciler) duplicate(msg protocol.Message) bool {
	var sig string
	switch m := msg.(type) {
	case *protocol.CellEdit:
		sig = fmt.Sprintf("cell_edit|%s|%s|%v", m.RowID, m.Column, m.Value)
	case *protocol.AddRow:
		sig = "add_row|" + m.RowID
	case *protocol.AddColumn:
		sig = "add_column|" + m.ColumnName
	case *protocol.ColumnReorder:
		sig = "column_reorder|" + strings.Join(m.Columns, ",")
	default:
		return false
	}
	now := r.now()
	if ts, ok := r.seen[sig]; ok && now.Sub(ts) < DedupWindow {
		return true
	}
	for s, ts := range r.seen {
		if now.Sub(ts) >= DedupWindow {
			delete(r.seen, s)
		}
	}
	r.seen[sig] = now
	return false
}

func (r *Reconciler) applyMutation(msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case *protocol.CellEdit:
		_, applied, err := r.tbl.EditCell(m.RowID, m.Column, m.Value)
		if err != nil || !applied {
			// the local copy lags behind; a full resync beats a crash
			r.resync()
			return false, nil
		}
		if r.view != nil {
			if err := r.view.SetCell(m.RowID, m.Column, m.Value); err != nil {
				r.view.Reload(r.tbl.Records())
			}
		}
		return true, nil

	case *protocol.AddRow:
		if m.RowID == "" {
			return false, fmt.Errorf("add_row broadcast without row id: %w", protocol.ErrInvalidMessage)
		}
		if _, err := r.tbl.RowIndex(m.RowID); err == nil {
			return false, nil
		}
		r.tbl.AddRowWithID(m.RowID)
		r.reload()
		return true, nil

	case *protocol.AddColumn:
		if err := r.tbl.InsertColumn(m.ColumnName); err != nil {
			return false, nil
		}
		r.reload()
		return true, nil

	case *protocol.ColumnReorder:
		r.tbl.ReorderColumns(m.Columns)
		r.reload()
		return true, nil

	case *protocol.TableStructure:
		fields := make([]string, 0, len(m.Columns))
		for _, c := range m.Columns {
			fields = append(fields, c.Field)
		}
		r.tbl.ReorderColumns(fields)
		if m.RowCount != r.tbl.RowCount() {
			r.resync()
		} else {
			r.reload()
		}
		return true, nil
	}
	return false, nil
}

func (r *Reconciler) reload() {
	if r.view != nil {
		r.view.Reload(r.tbl.Records())
	}
}

func (r *Reconciler) resync() {
	if r.onResync != nil {
		r.onResync()
	}
}
