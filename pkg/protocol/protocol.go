// Package protocol defines the message envelope exchanged between an
// editing session and the host over one websocket connection. Every wire
// message is a JSON object with a "type" discriminator and one concrete
// struct per kind; Decode rejects unknown types and payloads missing
// required fields instead of proceeding with partial data.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/RohanAdwankar/share-df/pkg/history"
	"github.com/RohanAdwankar/share-df/pkg/table"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

type Type string

const (
	TypeUpdateUser     Type = "update_user"
	TypeInit           Type = "init"
	TypeUserJoined     Type = "user_joined"
	TypeUserLeft       Type = "user_left"
	TypeCellEdit       Type = "cell_edit"
	TypeAddColumn      Type = "add_column"
	TypeAddRow         Type = "add_row"
	TypeCellFocus      Type = "cell_focus"
	TypeCellBlur       Type = "cell_blur"
	TypeCursorPosition Type = "cursor_position"
	TypeCursorMove     Type = "cursor_move"
	TypeColumnReorder  Type = "column_reorder"
	TypeTableStructure Type = "table_structure"
	TypeDataSync       Type = "data_sync"
	TypeUserFinished   Type = "user_finished"
)

// Message is one decoded wire message. Transient kinds are presence
// traffic: best-effort, exempt from deduplication, and never recorded in
// the change log.
type Message interface {
	MessageType() Type
	Transient() bool
	validate() error
}

// Collaborator is the registry view of one connected session.
type Collaborator struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Color  string   `json:"color"`
	Cursor *CellRef `json:"cursor,omitempty"`
}

// CellRef addresses one cell by stable row id and column name.
type CellRef struct {
	Row    string `json:"row"`
	Column string `json:"column"`
}

// XY is an absolute pixel position, the legacy presence channel.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CellID formats the "{row}-{column}" cell identifier used by the focus
// and blur messages.
func CellID(row, column string) string {
	return row + "-" + column
}

type UpdateUser struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (*UpdateUser) MessageType() Type { return TypeUpdateUser }
func (*UpdateUser) Transient() bool   { return false }
func (m *UpdateUser) validate() error {
	if m.Name == "" {
		return fmt.Errorf("update_user requires name: %w", ErrInvalidMessage)
	}
	return nil
}

type Init struct {
	UserID           string             `json:"userId"`
	Collaborators    []Collaborator     `json:"collaborators"`
	VersionSnapshots []history.Snapshot `json:"versionSnapshots,omitempty"`
	VersionChanges   []history.Change   `json:"versionChanges,omitempty"`
}

func (*Init) MessageType() Type { return TypeInit }
func (*Init) Transient() bool   { return false }
func (m *Init) validate() error {
	if m.UserID == "" {
		return fmt.Errorf("init requires userId: %w", ErrInvalidMessage)
	}
	return nil
}

type UserJoined struct {
	User Collaborator `json:"user"`
}

func (*UserJoined) MessageType() Type { return TypeUserJoined }
func (*UserJoined) Transient() bool   { return false }
func (m *UserJoined) validate() error {
	if m.User.ID == "" {
		return fmt.Errorf("user_joined requires user id: %w", ErrInvalidMessage)
	}
	return nil
}

type UserLeft struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
}

func (*UserLeft) MessageType() Type { return TypeUserLeft }
func (*UserLeft) Transient() bool   { return false }
func (m *UserLeft) validate() error {
	if m.UserID == "" && m.Name == "" {
		return fmt.Errorf("user_left requires userId or name: %w", ErrInvalidMessage)
	}
	return nil
}

type CellEdit struct {
	RowID  string `json:"rowId"`
	Column string `json:"column"`
	Value  any    `json:"value"`
	// ActionID identifies the originating local edit so its author can
	// discard the broadcast echo. Distinct from the durable change id.
	ActionID string `json:"actionId,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

func (*CellEdit) MessageType() Type { return TypeCellEdit }
func (*CellEdit) Transient() bool   { return false }
func (m *CellEdit) validate() error {
	if m.RowID == "" || m.Column == "" {
		return fmt.Errorf("cell_edit requires rowId and column: %w", ErrInvalidMessage)
	}
	return nil
}

type AddColumn struct {
	ColumnName string `json:"columnName"`
	ActionID   string `json:"actionId,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

func (*AddColumn) MessageType() Type { return TypeAddColumn }
func (*AddColumn) Transient() bool   { return false }
func (m *AddColumn) validate() error {
	if m.ColumnName == "" {
		return fmt.Errorf("add_column requires columnName: %w", ErrInvalidMessage)
	}
	return nil
}

type AddRow struct {
	// RowID is the id assigned to the appended row; set by the host, empty
	// on the client-originated request.
	RowID    string `json:"rowId,omitempty"`
	Position int    `json:"position,omitempty"`
	ActionID string `json:"actionId,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

func (*AddRow) MessageType() Type { return TypeAddRow }
func (*AddRow) Transient() bool   { return false }
func (*AddRow) validate() error   { return nil }

type CellFocus struct {
	CellID string `json:"cellId"`
	UserID string `json:"userId,omitempty"`
}

func (*CellFocus) MessageType() Type { return TypeCellFocus }
func (*CellFocus) Transient() bool   { return true }
func (m *CellFocus) validate() error {
	if m.CellID == "" {
		return fmt.Errorf("cell_focus requires cellId: %w", ErrInvalidMessage)
	}
	return nil
}

type CellBlur struct {
	CellID string `json:"cellId"`
	UserID string `json:"userId,omitempty"`
}

func (*CellBlur) MessageType() Type { return TypeCellBlur }
func (*CellBlur) Transient() bool   { return true }
func (m *CellBlur) validate() error {
	if m.CellID == "" {
		return fmt.Errorf("cell_blur requires cellId: %w", ErrInvalidMessage)
	}
	return nil
}

type CursorPosition struct {
	Position *CellRef `json:"position"`
	UserID   string   `json:"userId,omitempty"`
}

func (*CursorPosition) MessageType() Type { return TypeCursorPosition }
func (*CursorPosition) Transient() bool   { return true }
func (m *CursorPosition) validate() error {
	if m.Position == nil {
		return fmt.Errorf("cursor_position requires position: %w", ErrInvalidMessage)
	}
	return nil
}

type CursorMove struct {
	Cursor *XY    `json:"cursor"`
	UserID string `json:"userId,omitempty"`
}

func (*CursorMove) MessageType() Type { return TypeCursorMove }
func (*CursorMove) Transient() bool   { return true }
func (m *CursorMove) validate() error {
	if m.Cursor == nil {
		return fmt.Errorf("cursor_move requires cursor: %w", ErrInvalidMessage)
	}
	return nil
}

type ColumnReorder struct {
	Columns  []string `json:"columns"`
	ActionID string   `json:"actionId,omitempty"`
	UserID   string   `json:"userId,omitempty"`
}

func (*ColumnReorder) MessageType() Type { return TypeColumnReorder }
func (*ColumnReorder) Transient() bool   { return false }
func (m *ColumnReorder) validate() error {
	if len(m.Columns) == 0 {
		return fmt.Errorf("column_reorder requires columns: %w", ErrInvalidMessage)
	}
	return nil
}

type TableStructure struct {
	Columns  []table.Column `json:"columns"`
	RowCount int            `json:"rowCount"`
}

func (*TableStructure) MessageType() Type { return TypeTableStructure }
func (*TableStructure) Transient() bool   { return false }
func (m *TableStructure) validate() error {
	if len(m.Columns) == 0 {
		return fmt.Errorf("table_structure requires columns: %w", ErrInvalidMessage)
	}
	return nil
}

type DataSync struct {
	Message string `json:"message"`
	Reload  bool   `json:"reload"`
}

func (*DataSync) MessageType() Type { return TypeDataSync }
func (*DataSync) Transient() bool   { return false }
func (m *DataSync) validate() error {
	if m.Message == "" {
		return fmt.Errorf("data_sync requires message: %w", ErrInvalidMessage)
	}
	return nil
}

type UserFinished struct {
	UserID string `json:"userId"`
}

func (*UserFinished) MessageType() Type { return TypeUserFinished }
func (*UserFinished) Transient() bool   { return false }
func (m *UserFinished) validate() error {
	if m.UserID == "" {
		return fmt.Errorf("user_finished requires userId: %w", ErrInvalidMessage)
	}
	return nil
}

// Decode parses one wire message, dispatching on the type discriminator
// and validating the kind's required fields.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	var m Message
	switch head.Type {
	case TypeUpdateUser:
		m = &UpdateUser{}
	case TypeInit:
		m = &Init{}
	case TypeUserJoined:
		m = &UserJoined{}
	case TypeUserLeft:
		m = &UserLeft{}
	case TypeCellEdit:
		m = &CellEdit{}
	case TypeAddColumn:
		m = &AddColumn{}
	case TypeAddRow:
		m = &AddRow{}
	case TypeCellFocus:
		m = &CellFocus{}
	case TypeCellBlur:
		m = &CellBlur{}
	case TypeCursorPosition:
		m = &CursorPosition{}
	case TypeCursorMove:
		m = &CursorMove{}
	case TypeColumnReorder:
		m = &ColumnReorder{}
	case TypeTableStructure:
		m = &TableStructure{}
	case TypeDataSync:
		m = &DataSync{}
	case TypeUserFinished:
		m = &UserFinished{}
	default:
		return nil, fmt.Errorf("type %q: %w", head.Type, ErrUnknownType)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("malformed %s payload: %w", head.Type, err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode serializes a message with its type discriminator spliced in.
func Encode(m Message) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.MessageType(), err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	typeRaw, err := json.Marshal(m.MessageType())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeRaw
	return json.Marshal(fields)
}
