// Package storage owns the embedded SQLite database: schema bootstrap and
// scoped transactional access for the stores built on top of it.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection pool shared by all stores.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// path may be ":memory:" for testing. The schema is idempotent, so Open is
// safe to call on an existing database file.
func Open(path string) (*DB, error) {
	// foreign_keys must be enabled per connection for cascade deletes.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	// A single connection serializes writers at the pool level and keeps
	// ":memory:" databases from being re-created per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// WithTx runs fn inside a transaction: commit on nil return, rollback
// otherwise. The transaction is released on every exit path.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("storage: rollback after %v: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit transaction: %w", err)
	}
	return nil
}

// QueryRowContext forwards a single-row read to the pool.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, query, args...)
}

// QueryContext forwards a multi-row read to the pool.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// timeLayout is RFC3339 with a fixed-width nanosecond fraction. The zero
// padding keeps stored timestamps the same length, so SQLite's lexicographic
// text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Now returns the canonical storage timestamp: current time, UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatTime renders a timestamp the way all stores persist it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime reads a stored timestamp, accepting both the RFC3339 form written
// by the stores and SQLite's CURRENT_TIMESTAMP default format.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse timestamp %q: %w", s, err)
	}
	return t, nil
}
