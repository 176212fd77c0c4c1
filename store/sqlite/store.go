package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"hadydotai/beacon/events"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	longitude REAL NOT NULL,
	latitude REAL NOT NULL,
	event_time TEXT NOT NULL,
	name TEXT NOT NULL,
	phone_no TEXT NOT NULL,
	received_at_utc_ns INTEGER NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_events_no_update
BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only: UPDATE forbidden');
END;

CREATE TABLE IF NOT EXISTS recipients (
	subject_id TEXT NOT NULL,
	token TEXT NOT NULL,
	added_at_utc_ns INTEGER NOT NULL,
	PRIMARY KEY (subject_id, token)
);
`

// Store is a single file event log. It also keeps the push tokens of each
// subject's contacts so a deployment without an external directory can
// still escalate.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLITE_BUSY out of the append path.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Append stores rec and returns its id. A fresh id is generated when rec.ID
// is empty.
func (s *Store) Append(ctx context.Context, rec events.Record) (string, error) {
	if rec.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("generate record id: %w", err)
		}
		rec.ID = id
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO events(id, longitude, latitude, event_time, name, phone_no, received_at_utc_ns)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Event.Longitude, rec.Event.Latitude, rec.Event.Time, rec.Event.Name, rec.Event.PhoneNo,
		rec.ReceivedAt.UTC().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return rec.ID, nil
}

// ReadAll returns every stored event in append order.
func (s *Store) ReadAll(ctx context.Context) ([]events.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, longitude, latitude, event_time, name, phone_no, received_at_utc_ns
FROM events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var (
			rec        events.Record
			receivedNs int64
		)
		if err := rows.Scan(&rec.ID, &rec.Event.Longitude, &rec.Event.Latitude, &rec.Event.Time,
			&rec.Event.Name, &rec.Event.PhoneNo, &receivedNs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.ReceivedAt = time.Unix(0, receivedNs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddRecipient links a push token to subjectID. Adding the same pair twice
// is a no-op.
func (s *Store) AddRecipient(ctx context.Context, subjectID, token string) error {
	if subjectID == "" || token == "" {
		return errors.New("subject id and token are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO recipients(subject_id, token, added_at_utc_ns) VALUES (?, ?, ?)
ON CONFLICT(subject_id, token) DO NOTHING`, subjectID, token, time.Now().UTC().UnixNano())
	return err
}

func (s *Store) RemoveRecipient(ctx context.Context, subjectID, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE subject_id = ? AND token = ?`, subjectID, token)
	return err
}

// TokensFor implements the escalation directory over the recipients table.
func (s *Store) TokensFor(ctx context.Context, subjectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT token FROM recipients WHERE subject_id = ? ORDER BY added_at_utc_ns, token`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}
