package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const schemaEvents = `
CREATE TABLE IF NOT EXISTS change_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT UNIQUE NOT NULL,
    event TEXT NOT NULL,
    action TEXT NOT NULL,
    type TEXT NOT NULL,
    code TEXT NOT NULL,
    request_id TEXT NOT NULL,
    client_id TEXT NOT NULL,
    time INTEGER NOT NULL,
    payload TEXT NOT NULL
)`

const indexEventsNode = `CREATE INDEX IF NOT EXISTS idx_change_events_node ON change_events(type, code)`
const indexEventsRequest = `CREATE INDEX IF NOT EXISTS idx_change_events_request ON change_events(request_id)`

func allPragmas() []string {
	return []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
}

func allSchemaStatements() []string {
	return []string{
		schemaEvents,
		indexEventsNode,
		indexEventsRequest,
	}
}

// SQLiteSink appends events to a local SQLite table
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the event log at path
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to event log: %w", err)
	}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Name() string { return "sqlite" }

// Write appends the batch in one transaction. Replayed event ids are ignored.
func (s *SQLiteSink) Write(ctx context.Context, events []ChangeEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO change_events
		    (event_id, event, action, type, code, request_id, client_id, time, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", e.EventID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.EventID,
			string(e.Event),
			string(e.Action),
			e.Type,
			e.Code,
			e.RequestID,
			e.ClientID,
			e.Time,
			string(payload),
		); err != nil {
			return fmt.Errorf("inserting event %s: %w", e.EventID, err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit events, newest first
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM change_events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []ChangeEvent
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		var e ChangeEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
