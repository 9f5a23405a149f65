package hub

import (
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/RohanAdwankar/share-df/pkg/protocol"
)

// palette is the fixed set of collaborator colors, assigned randomly at
// connect time.
var palette = []string{
	"#3b82f6", "#22c55e", "#ef4444", "#6366f1",
	"#f59e0b", "#8b5cf6", "#ec4899", "#14b8a6",
}

// Session is one connected collaborator. Name and Color are mutated only
// inside the hub loop; the pumps touch just conn and send.
type Session struct {
	ID     string
	Name   string
	Color  string
	Cursor *protocol.CellRef

	conn *websocket.Conn
	send chan []byte
}

func (s *Session) collaborator() protocol.Collaborator {
	return protocol.Collaborator{ID: s.ID, Name: s.Name, Color: s.Color, Cursor: s.Cursor}
}

// readPump feeds inbound frames to the hub until the connection drops,
// then unregisters the session.
func (s *Session) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- s:
		case <-h.done:
		}
		_ = s.conn.Close()
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			slog.Info("session disconnected", "session", s.ID, "err", err)
			return
		}
		select {
		case h.inbound <- inboundFrame{origin: s, data: data}:
		case <-h.done:
			return
		}
	}
}

// writePump drains the outbound buffer onto the wire. It exits when the
// hub closes the send channel or the write fails.
func (s *Session) writePump() {
	defer s.conn.Close()
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Info("failed to write to session", "session", s.ID, "err", err)
			return
		}
	}
}
