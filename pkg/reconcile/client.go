package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/RohanAdwankar/share-df/pkg/protocol"
)

// Client connects a reconciler to a host's websocket endpoint.
type Client struct {
	conn *websocket.Conn
	rec  *Reconciler
}

// Dial connects to a ws:// editor url and returns a client feeding the
// given reconciler.
func Dial(ctx context.Context, url string, rec *Reconciler) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	return &Client{conn: conn, rec: rec}, nil
}

// Listen reads broadcasts and applies them until the connection drops or
// the context is cancelled.
func (c *Client) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("dropping undecodable broadcast", "err", err)
			continue
		}
		if _, err := c.rec.Apply(msg); err != nil {
			slog.Warn("failed to apply broadcast", "type", msg.MessageType(), "err", err)
		}
	}
}

// Send writes one message to the host.
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// EditCell applies a local cell edit optimistically and submits it with a
// fresh operation id so the broadcast echo is suppressed.
func (c *Client) EditCell(rowID, column string, value any) error {
	action := uuid.NewString()
	c.rec.mu.Lock()
	_, _, err := c.rec.tbl.EditCell(rowID, column, value)
	c.rec.mu.Unlock()
	if err != nil {
		return err
	}
	c.rec.RegisterAction(action)
	return c.Send(&protocol.CellEdit{RowID: rowID, Column: column, Value: value, ActionID: action})
}

// AddRow appends a row locally and submits it, proposing the generated row
// id so every session agrees on the new row's identity.
func (c *Client) AddRow() (string, error) {
	action := uuid.NewString()
	rowID := uuid.NewString()
	c.rec.mu.Lock()
	c.rec.tbl.AddRowWithID(rowID)
	c.rec.mu.Unlock()
	c.rec.RegisterAction(action)
	if err := c.Send(&protocol.AddRow{RowID: rowID, ActionID: action}); err != nil {
		return "", err
	}
	return rowID, nil
}

// AddColumn submits a new column by name. No optimistic apply: the host
// may rename on collision, so the column lands via the broadcast.
func (c *Client) AddColumn(name string) error {
	return c.Send(&protocol.AddColumn{ColumnName: name})
}

func (c *Client) Close() error {
	return c.conn.Close()
}
