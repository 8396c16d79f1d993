package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/mulyo/internal/history"
)

// Sink journals history events in a SQLite database.
type Sink struct {
	db *sql.DB
}

// New opens (creating if needed) the journal.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// several CLI invocations may append concurrently
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS supervision_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			occurred_at INTEGER NOT NULL,
			state TEXT NOT NULL,
			name TEXT NOT NULL,
			script TEXT NOT NULL,
			pid INTEGER NOT NULL,
			restarts INTEGER NOT NULL,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_supervision_events_name ON supervision_events(name);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	var detail any
	if e.Detail != "" {
		detail = e.Detail
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supervision_events(occurred_at, state, name, script, pid, restarts, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		at.UTC().UnixMilli(), e.State, e.Name, e.Script, e.PID, e.Restarts, detail)
	return err
}

// Recent returns up to limit events, newest first. limit <= 0 means 20.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at, state, name, script, pid, restarts, detail
		FROM supervision_events ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			ms     int64
			e      history.Event
			detail sql.NullString
		)
		if err := rows.Scan(&ms, &e.State, &e.Name, &e.Script, &e.PID, &e.Restarts, &detail); err != nil {
			return nil, err
		}
		e.OccurredAt = time.UnixMilli(ms).UTC()
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
