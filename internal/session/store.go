// Package session provides CRUD over pentest-lab session records. A session
// owns its message log and lab context; deleting it cascades to both.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/0x6d61/labvault/internal/storage"
)

// Session lifecycle statuses. Stored as open strings: transitions are
// caller-driven and deliberately unvalidated (completed -> active is legal).
const (
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusArchived  = "archived"
)

// DefaultUserID is the single-tenant placeholder owner.
const DefaultUserID = "default_user"

// InitialPhase is the phase a session's lab context starts in.
const InitialPhase = "reconnaissance"

// Session is one tracked engagement (one lab/target).
type Session struct {
	ID             string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"session_name,omitempty"`
	LabEnvironment string         `json:"lab_environment,omitempty"`
	LabTarget      string         `json:"lab_target,omitempty"`
	LabObjective   string         `json:"lab_objective,omitempty"`
	Status         string         `json:"status"`
	Metadata       map[string]any `json:"session_metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastActive     time.Time      `json:"last_active"`
	Archived       bool           `json:"is_archived"`
}

// CreateParams holds the optional attributes of a new session.
type CreateParams struct {
	UserID         string
	Name           string
	LabEnvironment string
	LabTarget      string
	LabObjective   string
	Metadata       map[string]any
}

// Store persists sessions.
type Store struct {
	db *storage.DB
}

// NewStore creates a session store over db.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new session and its initial lab context row in one
// transaction and returns the generated identifier. Identifiers are random
// UUIDs, so they are collision-resistant and unguessable; they double as the
// resumption token.
func (s *Store) Create(ctx context.Context, p CreateParams) (string, error) {
	id := uuid.NewString()
	userID := p.UserID
	if userID == "" {
		userID = DefaultUserID
	}

	var metadataJSON sql.NullString
	if p.Metadata != nil {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return "", fmt.Errorf("session: marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := storage.FormatTime(storage.Now())

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (
				session_id, user_id, session_name, lab_environment,
				lab_target, lab_objective, session_metadata,
				created_at, updated_at, last_active
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, userID,
			nullable(p.Name), nullable(p.LabEnvironment),
			nullable(p.LabTarget), nullable(p.LabObjective),
			metadataJSON, now, now, now,
		)
		if err != nil {
			return fmt.Errorf("session: insert session: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO lab_context (session_id, phase, updated_at)
			VALUES (?, ?, ?)`,
			id, InitialPhase, now,
		)
		if err != nil {
			return fmt.Errorf("session: insert initial context: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// Get returns the session with the given id, or (nil, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, session_name, lab_environment,
		       lab_target, lab_objective, status, session_metadata,
		       created_at, updated_at, last_active, is_archived
		FROM sessions WHERE session_id = ?`, id)

	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// List returns sessions ordered by last_active descending. userID and status
// filters are conjunctive when both are non-empty.
func (s *Store) List(ctx context.Context, userID, status string, limit int) ([]*Session, error) {
	query := `
		SELECT session_id, user_id, session_name, lab_environment,
		       lab_target, lab_objective, status, session_metadata,
		       created_at, updated_at, last_active, is_archived
		FROM sessions WHERE 1=1`
	var args []any

	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY last_active DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("session: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: iterate rows: %w", err)
	}
	return sessions, nil
}

// UpdateStatus writes the status unconditionally. Zero rows affected for a
// missing id is a silent no-op, matching the rest of the write operations.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, updated_at = ?
			WHERE session_id = ?`,
			status, storage.FormatTime(storage.Now()), id)
		if err != nil {
			return fmt.Errorf("session: update status: %w", err)
		}
		return nil
	})
}

// Archive sets the archived flag and status in one statement.
func (s *Store) Archive(ctx context.Context, id string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sessions SET is_archived = 1, status = ?, updated_at = ?
			WHERE session_id = ?`,
			StatusArchived, storage.FormatTime(storage.Now()), id)
		if err != nil {
			return fmt.Errorf("session: archive session: %w", err)
		}
		return nil
	})
}

// Delete removes the session; the schema's cascade rules remove its messages
// and lab context rows in the same operation.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("session: delete session: %w", err)
		}
		return nil
	})
}

// Touch advances last_active to now inside an existing transaction. Used by
// the message log so the append and the timestamp land atomically.
func Touch(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE sessions SET last_active = ? WHERE session_id = ?`,
		storage.FormatTime(storage.Now()), id)
	if err != nil {
		return fmt.Errorf("session: touch last_active: %w", err)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*Session, error) {
	var (
		sess                             Session
		name, env, target, objective     sql.NullString
		metadataJSON                     sql.NullString
		createdAt, updatedAt, lastActive string
		archived                         int
	)
	err := sc.Scan(
		&sess.ID, &sess.UserID, &name, &env, &target, &objective,
		&sess.Status, &metadataJSON, &createdAt, &updatedAt, &lastActive,
		&archived,
	)
	if err != nil {
		return nil, err
	}

	sess.Name = name.String
	sess.LabEnvironment = env.String
	sess.LabTarget = target.String
	sess.LabObjective = objective.String
	sess.Archived = archived != 0

	if metadataJSON.Valid {
		if err := json.Unmarshal([]byte(metadataJSON.String), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("session: unmarshal metadata: %w", err)
		}
	}

	if sess.CreatedAt, err = storage.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if sess.LastActive, err = storage.ParseTime(lastActive); err != nil {
		return nil, err
	}

	return &sess, nil
}

// nullable maps "" to NULL so optional text attributes stay absent on disk.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
