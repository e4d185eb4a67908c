package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) returned error: %v", err)
	}
	defer db.Close()

	if db.db == nil {
		t.Fatal("Open(:memory:) db field is nil")
	}
}

func TestOpenIdempotentSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("first Open returned error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	// Re-opening an initialized database must re-apply the schema cleanly.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("second Open returned error: %v", err)
	}
	defer db.Close()

	var count int
	err = db.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('sessions', 'messages', 'lab_context')`).
		Scan(&count)
	if err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 3 {
		t.Errorf("table count = %d, want 3", count)
	}
}

func TestWithTxCommit(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, created_at, updated_at, last_active)
			VALUES ('tx-commit', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx returned error: %v", err)
	}

	var got string
	err = db.QueryRowContext(ctx, `SELECT session_id FROM sessions WHERE session_id = 'tx-commit'`).Scan(&got)
	if err != nil {
		t.Fatalf("row not committed: %v", err)
	}
}

func TestWithTxRollback(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	boom := errors.New("boom")

	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		_, execErr := tx.ExecContext(ctx, `
			INSERT INTO sessions (session_id, created_at, updated_at, last_active)
			VALUES ('tx-rollback', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')`)
		if execErr != nil {
			return execErr
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx error = %v, want %v", err, boom)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 0 {
		t.Errorf("rolled-back insert is visible: count = %d, want 0", count)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	now := Now()
	parsed, err := ParseTime(FormatTime(now))
	if err != nil {
		t.Fatalf("ParseTime returned error: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round-trip = %v, want %v", parsed, now)
	}
}

func TestParseTimeSQLiteDefault(t *testing.T) {
	parsed, err := ParseTime("2026-03-01 12:30:45")
	if err != nil {
		t.Fatalf("ParseTime returned error: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	if !parsed.Equal(want) {
		t.Errorf("parsed = %v, want %v", parsed, want)
	}
}

func TestParseTimeInvalid(t *testing.T) {
	if _, err := ParseTime("not-a-time"); err == nil {
		t.Fatal("ParseTime accepted garbage input")
	}
}
