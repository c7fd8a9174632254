// Package audit implements an append-only sqlite log of publish and
// config-reload events (C10 deploys, C1 RefreshAll runs). Grounded on
// the teacher's migration tooling (internal/database/migrations.go's
// goose.Up(db, migrationsDir) shape) with mattn/go-sqlite3 swapped for
// modernc.org/sqlite so the audit log needs no cgo toolchain — it is
// ops-adjacent infrastructure, not the request-path core, and a pure-Go
// driver keeps the binary trivially cross-compilable.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Kind discriminates the two event families this log records.
type Kind string

const (
	KindPublish Kind = "publish"
	KindReload  Kind = "reload"
)

// Event is one row of the audit log.
type Event struct {
	ID         int64
	OccurredAt time.Time
	Kind       Kind
	Repo       string
	Path       string
	Username   string
	Status     string
	Detail     string
}

// Store wraps the audit sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and
// applies every pending goose migration embedded in this package.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer at a time, goose also assumes this

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: setting goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record appends one event. now is injected so PUT/reload call sites
// that already computed a timestamp (e.g. the PUT handler's, which it
// also puts on the broadcast event) don't re-derive a slightly different
// one.
func (s *Store) Record(ctx context.Context, now time.Time, ev Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (occurred_at, kind, repo, path, username, status, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		now.UTC(), string(ev.Kind), ev.Repo, ev.Path, ev.Username, ev.Status, ev.Detail,
	)
	if err != nil {
		return fmt.Errorf("audit: inserting event: %w", err)
	}
	return nil
}

// Recent returns up to limit most-recent events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurred_at, kind, repo, path, username, status, detail
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var kind string
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &kind, &ev.Repo, &ev.Path, &ev.Username, &ev.Status, &ev.Detail); err != nil {
			return nil, fmt.Errorf("audit: scanning event: %w", err)
		}
		ev.Kind = Kind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}
