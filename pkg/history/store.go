package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists the change log and snapshot index in sqlite so a long
// editing session survives a host restart. Values are stored JSON-encoded
// since cells are free-form scalars.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) a history database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS changes (
    	id text not null primary key,
    	session_id text not null,
    	author text not null,
    	color text not null,
    	ts integer not null,
    	kind text not null,
    	row_id text not null,
    	column_name text not null,
    	old_value text not null,
    	new_value text not null,
    	reverts text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create changes table: %w", err)
	}
	if _, err := s.db.Exec(
		`CREATE TABLE IF NOT EXISTS snapshots (
    	id text not null primary key,
    	start_ts integer not null,
    	end_ts integer not null,
    	count integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create snapshots table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AppendChange(c Change) error {
	oldRaw, err := json.Marshal(c.Old)
	if err != nil {
		return fmt.Errorf("failed to encode old value: %w", err)
	}
	newRaw, err := json.Marshal(c.New)
	if err != nil {
		return fmt.Errorf("failed to encode new value: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT INTO changes(id, session_id, author, color, ts, kind, row_id, column_name, old_value, new_value, reverts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.Author, c.Color, c.Timestamp.UnixNano(), string(c.Kind),
		c.Row, c.Column, string(oldRaw), string(newRaw), c.Reverts,
	); err != nil {
		return fmt.Errorf("failed to insert change: %w", err)
	}
	return nil
}

func (s *Store) AppendSnapshot(snap Snapshot) error {
	if _, err := s.db.Exec(
		`INSERT INTO snapshots(id, start_ts, end_ts, count) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.Start.UnixNano(), snap.End.UnixNano(), snap.Count,
	); err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// TruncateAfter deletes changes at or after ts and snapshots ending after
// ts, the persistence side of RestoreTruncate.
func (s *Store) TruncateAfter(ts time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM changes WHERE ts >= ?`, ts.UnixNano()); err != nil {
		return fmt.Errorf("failed to delete changes: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE end_ts > ?`, ts.UnixNano()); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// Load reads the whole log back in record order.
func (s *Store) Load() ([]Change, []Snapshot, error) {
	rows, err := s.db.Query(`SELECT id, session_id, author, color, ts, kind, row_id, column_name, old_value, new_value, reverts FROM changes ORDER BY ts ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var ts int64
		var kind, oldRaw, newRaw string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Author, &c.Color, &ts, &kind, &c.Row, &c.Column, &oldRaw, &newRaw, &c.Reverts); err != nil {
			return nil, nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Timestamp = time.Unix(0, ts)
		c.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(oldRaw), &c.Old); err != nil {
			return nil, nil, fmt.Errorf("failed to decode old value: %w", err)
		}
		if err := json.Unmarshal([]byte(newRaw), &c.New); err != nil {
			return nil, nil, fmt.Errorf("failed to decode new value: %w", err)
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate changes: %w", err)
	}

	snapRows, err := s.db.Query(`SELECT id, start_ts, end_ts, count FROM snapshots ORDER BY end_ts ASC`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer snapRows.Close()

	var snapshots []Snapshot
	for snapRows.Next() {
		var snap Snapshot
		var start, end int64
		if err := snapRows.Scan(&snap.ID, &start, &end, &snap.Count); err != nil {
			return nil, nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Start = time.Unix(0, start)
		snap.End = time.Unix(0, end)
		snapshots = append(snapshots, snap)
	}
	if err := snapRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return changes, snapshots, nil
}
