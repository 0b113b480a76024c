// Package eventlog persists the broker's availability transition history
// to SQLite so an operator can answer "when did the broker last go down,
// and for how long" after the fact, without depending on a live metrics
// scrape. It is a pure observer of the Broker Availability Publisher: it
// never participates in the relay's own availability decisions.
package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*
var migrations embed.FS

// Store records availability transitions to a SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite file at path and brings its schema up
// to date.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys=on", path))
	if err != nil {
		return nil, err
	}
	// Serialize access, same rationale as the teacher's user store: a
	// single SQLite writer avoids SQLITE_BUSY under concurrent access.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog: running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) runMigrations() error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	source, err := httpfs.New(http.FS(sub), ".")
	if err != nil {
		return fmt.Errorf("preparing migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("httpfs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("creating migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append records one availability transition.
func (s *Store) Append(ctx context.Context, available bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO availability_events (available, occurred_at) VALUES (?, ?)`,
		available, at.UTC().Format(time.RFC3339Nano))
	return err
}

// Transition is one recorded availability event.
type Transition struct {
	Available  bool
	OccurredAt time.Time
}

// Recent returns the most recent n availability transitions, newest
// first.
func (s *Store) Recent(ctx context.Context, n int) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT available, occurred_at FROM availability_events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var available bool
		var occurredAt string
		if err := rows.Scan(&available, &occurredAt); err != nil {
			return nil, err
		}
		at, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, err
		}
		out = append(out, Transition{Available: available, OccurredAt: at})
	}
	return out, rows.Err()
}
