// Package hub owns the canonical table state for one editing instance and
// fans validated mutations out to every connected session. All mutation
// and registry access runs on the hub goroutine, making the hub the sole
// writer of the table and the change log; handlers and HTTP endpoints
// funnel work in through channels.
package hub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/RohanAdwankar/share-df/pkg/history"
	"github.com/RohanAdwankar/share-df/pkg/protocol"
	"github.com/RohanAdwankar/share-df/pkg/table"
)

type inboundFrame struct {
	origin *Session
	data   []byte
}

type Hub struct {
	tbl *table.Table
	log *history.Log

	sessions    map[string]*Session
	joinCounter int

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundFrame
	tasks      chan func()
	done       chan struct{}

	upgrader websocket.Upgrader
}

// New builds a hub over the given canonical table and change log.
func New(tbl *table.Table, log *history.Log) *Hub {
	return &Hub{
		tbl:        tbl,
		log:        log,
		sessions:   map[string]*Session{},
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inboundFrame, 64),
		tasks:      make(chan func()),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run processes registry, mutation and task traffic until the context is
// cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, s := range h.sessions {
			close(s.send)
			_ = s.conn.Close()
		}
	}()
	for {
		select {
		case s := <-h.register:
			h.handleRegister(s)
		case s := <-h.unregister:
			h.handleUnregister(s)
		case f := <-h.inbound:
			h.handleMessage(f.origin, f.data)
		case fn := <-h.tasks:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// do runs fn on the hub goroutine and waits for it. After shutdown it
// returns without running fn.
func (h *Hub) do(fn func()) {
	ran := make(chan struct{})
	select {
	case h.tasks <- func() { fn(); close(ran) }:
		<-ran
	case <-h.done:
	}
}

// ServeWS upgrades the request and attaches the new session to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s := &Session{ID: uuid.NewString(), conn: conn, send: make(chan []byte, 64)}
	go s.writePump()
	select {
	case h.register <- s:
	case <-h.done:
		_ = conn.Close()
		return
	}
	s.readPump(h)
}

func (h *Hub) handleRegister(s *Session) {
	h.joinCounter++
	s.Name = fmt.Sprintf("Collaborator %d", h.joinCounter)
	s.Color = palette[rand.Intn(len(palette))]
	h.sessions[s.ID] = s
	slog.Info("session joined", "session", s.ID, "name", s.Name)

	collaborators := make([]protocol.Collaborator, 0, len(h.sessions))
	for _, other := range h.sessions {
		collaborators = append(collaborators, other.collaborator())
	}
	h.sendTo(s, &protocol.Init{
		UserID:           s.ID,
		Collaborators:    collaborators,
		VersionSnapshots: h.log.Snapshots(),
		VersionChanges:   h.log.Changes(),
	})
	h.broadcast(&protocol.UserJoined{User: s.collaborator()}, s)
}

func (h *Hub) handleUnregister(s *Session) {
	if _, ok := h.sessions[s.ID]; !ok {
		return
	}
	delete(h.sessions, s.ID)
	close(s.send)
	slog.Info("session left", "session", s.ID, "name", s.Name)
	// departure clears the session's presence artifacts on every client
	h.broadcast(&protocol.UserLeft{UserID: s.ID, Name: s.Name}, nil)
}

func (h *Hub) handleMessage(origin *Session, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// a malformed payload terminates only the offending session
		slog.Warn("dropping session for malformed message", "session", origin.ID, "err", err)
		_ = origin.conn.Close()
		return
	}

	if msg.Transient() {
		h.handlePresence(origin, msg)
		return
	}

	switch m := msg.(type) {
	case *protocol.UpdateUser:
		origin.Name = m.Name
		if m.Color != "" {
			origin.Color = m.Color
		}
		h.broadcast(&protocol.UserJoined{User: origin.collaborator()}, origin)

	case *protocol.CellEdit:
		old, applied, err := h.tbl.EditCell(m.RowID, m.Column, m.Value)
		if err != nil || !applied {
			// nonexistent row or column: validation faults are dropped,
			// never escalated to the session
			slog.Debug("dropping cell edit", "session", origin.ID, "row", m.RowID, "column", m.Column, "err", err)
			return
		}
		h.record(history.Change{
			SessionID: origin.ID, Author: origin.Name, Color: origin.Color,
			Kind: history.KindCellEdit, Row: m.RowID, Column: m.Column, Old: old, New: m.Value,
		})
		h.broadcast(&protocol.CellEdit{
			RowID: m.RowID, Column: m.Column, Value: m.Value,
			ActionID: m.ActionID, UserID: origin.ID,
		}, origin)

	case *protocol.AddRow:
		rowID := m.RowID
		if rowID != "" {
			if _, err := h.tbl.RowIndex(rowID); err == nil {
				// duplicate delivery of an add for a row we already have
				return
			}
			h.tbl.AddRowWithID(rowID)
		} else {
			rowID = h.tbl.AddRow()
		}
		h.record(history.Change{
			SessionID: origin.ID, Author: origin.Name, Color: origin.Color,
			Kind: history.KindAddRow, Row: rowID,
		})
		// everyone gets this one, the origin included: a session that
		// asked the host to pick the row id needs it back, and one that
		// proposed its own suppresses the echo by action id
		h.broadcast(&protocol.AddRow{
			RowID: rowID, Position: h.tbl.RowCount() - 1,
			ActionID: m.ActionID, UserID: origin.ID,
		}, nil)

	case *protocol.AddColumn:
		final := h.tbl.AddColumn(m.ColumnName)
		h.record(history.Change{
			SessionID: origin.ID, Author: origin.Name, Color: origin.Color,
			Kind: history.KindAddColumn, Column: final,
		})
		// everyone gets this one, the origin included: the host may have
		// renamed on collision, and an origin that applied optimistically
		// suppresses it by action id anyway
		h.broadcast(&protocol.AddColumn{ColumnName: final, ActionID: m.ActionID, UserID: origin.ID}, nil)
		if final != m.ColumnName {
			// the requested name collided; the origin's optimistic column
			// is wrong, so make it refetch
			h.sendTo(origin, &protocol.DataSync{Message: fmt.Sprintf("column renamed to %q", final), Reload: true})
		}

	case *protocol.ColumnReorder:
		h.tbl.ReorderColumns(m.Columns)
		h.broadcast(&protocol.ColumnReorder{Columns: h.tbl.ColumnFields(), ActionID: m.ActionID, UserID: origin.ID}, origin)
		h.broadcast(&protocol.TableStructure{Columns: h.tbl.Columns(), RowCount: h.tbl.RowCount()}, nil)

	case *protocol.TableStructure:
		// legacy structure push, relayed as-is
		h.broadcast(m, origin)

	case *protocol.UserFinished:
		if m.UserID == "" {
			m.UserID = origin.ID
		}
		h.broadcast(m, origin)

	default:
		// server-originated kinds (init, user_joined, data_sync, ...) have
		// no business arriving from a client
		slog.Debug("ignoring unexpected client message", "session", origin.ID, "type", msg.MessageType())
	}
}

// handlePresence relays cursor and focus traffic. Presence is lossy and
// transient: it never touches the change log and each event just replaces
// the previous known position.
func (h *Hub) handlePresence(origin *Session, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.CursorPosition:
		m.UserID = origin.ID
		origin.Cursor = m.Position
	case *protocol.CursorMove:
		m.UserID = origin.ID
	case *protocol.CellFocus:
		m.UserID = origin.ID
	case *protocol.CellBlur:
		m.UserID = origin.ID
	}
	h.broadcast(msg, origin)
}

func (h *Hub) record(c history.Change) {
	if _, err := h.log.Record(c); err != nil {
		// the mutation already applied; a log failure must not take the
		// session down with it
		slog.Error("failed to record change", "err", err)
	}
}

// broadcast delivers msg to every session except the given origin. A
// session with a full outbound buffer misses the message rather than
// blocking the hub.
func (h *Hub) broadcast(msg protocol.Message, except *Session) {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("failed to encode broadcast", "type", msg.MessageType(), "err", err)
		return
	}
	for _, s := range h.sessions {
		if s == except {
			continue
		}
		select {
		case s.send <- data:
		default:
			slog.Warn("session send buffer full, dropping message", "session", s.ID, "type", msg.MessageType())
		}
	}
}

func (h *Hub) sendTo(s *Session, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		slog.Error("failed to encode message", "type", msg.MessageType(), "err", err)
		return
	}
	select {
	case s.send <- data:
	default:
		slog.Warn("session send buffer full, dropping message", "session", s.ID, "type", msg.MessageType())
	}
}

// EncodeData writes the current table as JSON records with row ids. The
// snapshot is taken on the hub loop but the write happens outside it, so
// a stalled reader cannot hold up edits and broadcasts.
func (h *Hub) EncodeData(w io.Writer) error {
	var tbl *table.Table
	h.do(func() {
		tbl = h.tbl.Clone()
	})
	if tbl == nil {
		return nil
	}
	return tbl.EncodeRecords(w, true)
}

// Table returns a copy of the current canonical table.
func (h *Hub) Table() *table.Table {
	var out *table.Table
	h.do(func() {
		out = h.tbl.Clone()
	})
	return out
}

// ReplaceTable swaps in a wholesale-saved table and tells every session to
// reload. Full saves bypass the per-cell change log (see DESIGN.md); the
// open snapshot window is closed so the log stays consistent up to the
// swap, and the log is rebased so later snapshots restore on top of the
// saved table rather than the pre-save state.
func (h *Hub) ReplaceTable(t *table.Table) {
	h.do(func() {
		if _, err := h.log.CloseSnapshot(); err != nil {
			slog.Error("failed to close snapshot", "err", err)
		}
		h.tbl = t
		h.log.Rebase(t)
		h.broadcast(&protocol.DataSync{Message: "table updated", Reload: true}, nil)
	})
}

// Versions closes the open snapshot window so the latest batch of edits is
// listable, then returns the snapshot index (most recent first) and the
// full change log.
func (h *Hub) Versions() ([]history.Snapshot, []history.Change) {
	var snaps []history.Snapshot
	var changes []history.Change
	h.do(func() {
		if _, err := h.log.CloseSnapshot(); err != nil {
			slog.Error("failed to close snapshot", "err", err)
		}
		snaps = h.log.Snapshots()
		changes = h.log.Changes()
	})
	return snaps, changes
}

// RestoreSnapshot rewinds the canonical table to the state at the end of
// the given snapshot and tells every session to reload. It either fully
// succeeds or leaves the table untouched.
func (h *Hub) RestoreSnapshot(snapshotID string) error {
	var err error
	h.do(func() {
		var restored *table.Table
		restored, err = h.log.RestoreSnapshot(snapshotID)
		if err != nil {
			return
		}
		h.tbl = restored
		h.broadcast(&protocol.DataSync{Message: "version restored", Reload: true}, nil)
	})
	return err
}

// RevertChange undoes one recorded change on the live table, records the
// compensating entry, and tells every session to reload.
func (h *Hub) RevertChange(changeID string) error {
	var err error
	h.do(func() {
		_, err = h.log.RevertChange(h.tbl, changeID, "", "host", "")
		if err != nil {
			return
		}
		h.broadcast(&protocol.DataSync{Message: "change reverted", Reload: true}, nil)
	})
	return err
}

// Collaborators lists the connected sessions.
func (h *Hub) Collaborators() []protocol.Collaborator {
	var out []protocol.Collaborator
	h.do(func() {
		for _, s := range h.sessions {
			out = append(out, s.collaborator())
		}
	})
	return out
}

// LogLen reports the number of recorded changes.
func (h *Hub) LogLen() int {
	var n int
	h.do(func() {
		n = h.log.Len()
	})
	return n
}
