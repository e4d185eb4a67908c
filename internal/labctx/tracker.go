// Package labctx maintains the structured lab context of a session: the
// evolving record of discovered ports, services, vulnerabilities, credentials,
// flags and notes. Every mutation is a field-level merge against the session's
// current context row, not a replace.
package labctx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/0x6d61/labvault/internal/storage"
)

// Finding is a free-form discovery (service banner, odd file, hint, ...).
type Finding struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    string    `json:"severity,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Service describes a service identified on a port. Unique by port: a later
// write for the same port replaces the entry in place.
type Service struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
	Version string `json:"version,omitempty"`
}

// Vulnerability is an identified weakness. Append-only; entries are not
// deduplicated by name.
type Vulnerability struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// Credential is a captured username/password pair.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Service  string `json:"service,omitempty"`
}

// Context is the current structured lab context of a session. Nil collection
// fields mean "never set", which is distinct from a stored empty collection.
type Context struct {
	ID              int64             `json:"context_id"`
	SessionID       string            `json:"session_id"`
	Phase           string            `json:"phase"`
	Findings        []Finding         `json:"findings,omitempty"`
	OpenPorts       []int             `json:"open_ports,omitempty"`
	Services        []Service         `json:"services,omitempty"`
	Vulnerabilities []Vulnerability   `json:"vulnerabilities,omitempty"`
	Credentials     []Credential      `json:"credentials,omitempty"`
	Flags           map[string]string `json:"flags,omitempty"`
	Notes           string            `json:"notes,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Tracker performs merge operations on lab context rows.
//
// Each mutation reads the current row, transforms it in memory and writes the
// changed column back. That read-modify-write is fine for the intended
// single-driver-per-session usage but is not safe when two writers merge into
// the same session concurrently: the second write can discard the first.
type Tracker struct {
	db *storage.DB
}

// NewTracker creates a tracker over db.
func NewTracker(db *storage.DB) *Tracker {
	return &Tracker{db: db}
}

// UpdatePhase overwrites the session's current phase. Phases are free-form
// labels; by convention reconnaissance, enumeration, exploitation or
// post-exploitation.
func (t *Tracker) UpdatePhase(ctx context.Context, sessionID, phase string) error {
	return t.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, _, err := currentRow(ctx, tx, sessionID, "phase")
		if err != nil || id == 0 {
			return err
		}
		return writeColumn(ctx, tx, id, "phase", phase)
	})
}

// AddFinding appends a finding, stamping it with the current time.
func (t *Tracker) AddFinding(ctx context.Context, sessionID string, f Finding) error {
	f.Timestamp = storage.Now()
	return t.mergeJSON(ctx, sessionID, "findings", func(raw sql.NullString) (any, error) {
		var findings []Finding
		if err := decodeIfSet(raw, &findings); err != nil {
			return nil, err
		}
		return append(findings, f), nil
	})
}

// AddPorts unions ports into the open port set. The stored set is always
// sorted ascending with duplicates removed, so the operation is idempotent
// and commutative.
func (t *Tracker) AddPorts(ctx context.Context, sessionID string, ports []int) error {
	return t.mergeJSON(ctx, sessionID, "open_ports", func(raw sql.NullString) (any, error) {
		var existing []int
		if err := decodeIfSet(raw, &existing); err != nil {
			return nil, err
		}
		set := make(map[int]struct{}, len(existing)+len(ports))
		for _, p := range existing {
			set[p] = struct{}{}
		}
		for _, p := range ports {
			set[p] = struct{}{}
		}
		merged := make([]int, 0, len(set))
		for p := range set {
			merged = append(merged, p)
		}
		sort.Ints(merged)
		return merged, nil
	})
}

// AddService upserts a service entry keyed by port. An existing entry for the
// port is replaced in place, keeping the position of the first occurrence;
// otherwise the entry is appended.
func (t *Tracker) AddService(ctx context.Context, sessionID string, port int, service, version string) error {
	return t.mergeJSON(ctx, sessionID, "services", func(raw sql.NullString) (any, error) {
		var services []Service
		if err := decodeIfSet(raw, &services); err != nil {
			return nil, err
		}
		entry := Service{Port: port, Service: service, Version: version}
		for i, s := range services {
			if s.Port == port {
				services[i] = entry
				return services, nil
			}
		}
		return append(services, entry), nil
	})
}

// AddVulnerability appends a vulnerability. Duplicates by name are kept:
// each call adds a new entry.
func (t *Tracker) AddVulnerability(ctx context.Context, sessionID string, v Vulnerability) error {
	return t.mergeJSON(ctx, sessionID, "vulnerabilities", func(raw sql.NullString) (any, error) {
		var vulns []Vulnerability
		if err := decodeIfSet(raw, &vulns); err != nil {
			return nil, err
		}
		return append(vulns, v), nil
	})
}

// AddCredential appends a captured credential.
func (t *Tracker) AddCredential(ctx context.Context, sessionID string, c Credential) error {
	return t.mergeJSON(ctx, sessionID, "credentials", func(raw sql.NullString) (any, error) {
		var creds []Credential
		if err := decodeIfSet(raw, &creds); err != nil {
			return nil, err
		}
		return append(creds, c), nil
	})
}

// SetFlag records a captured flag. Last write wins per flag type; other
// flag types are untouched.
func (t *Tracker) SetFlag(ctx context.Context, sessionID, flagType, value string) error {
	return t.mergeJSON(ctx, sessionID, "flags", func(raw sql.NullString) (any, error) {
		var flags map[string]string
		if err := decodeIfSet(raw, &flags); err != nil {
			return nil, err
		}
		if flags == nil {
			flags = make(map[string]string)
		}
		flags[flagType] = value
		return flags, nil
	})
}

// AddNotes concatenates text after the existing notes, separated by a blank
// line.
func (t *Tracker) AddNotes(ctx context.Context, sessionID, text string) error {
	return t.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, raw, err := currentRow(ctx, tx, sessionID, "notes")
		if err != nil || id == 0 {
			return err
		}
		notes := strings.TrimSpace(raw.String + "\n\n" + text)
		return writeColumn(ctx, tx, id, "notes", notes)
	})
}

// Get returns the session's current context (the most recently created row),
// or (nil, nil) if the session has none.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*Context, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT context_id, session_id, phase, findings, open_ports, services,
		       vulnerabilities, credentials, flags, notes, updated_at
		FROM lab_context WHERE session_id = ?
		ORDER BY context_id DESC LIMIT 1`, sessionID)

	var (
		c         Context
		findings  sql.NullString
		ports     sql.NullString
		services  sql.NullString
		vulns     sql.NullString
		creds     sql.NullString
		flags     sql.NullString
		notes     sql.NullString
		updatedAt string
	)
	err := row.Scan(
		&c.ID, &c.SessionID, &c.Phase, &findings, &ports, &services,
		&vulns, &creds, &flags, &notes, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("labctx: scan context row: %w", err)
	}

	if err := decodeIfSet(findings, &c.Findings); err != nil {
		return nil, err
	}
	if err := decodeIfSet(ports, &c.OpenPorts); err != nil {
		return nil, err
	}
	if err := decodeIfSet(services, &c.Services); err != nil {
		return nil, err
	}
	if err := decodeIfSet(vulns, &c.Vulnerabilities); err != nil {
		return nil, err
	}
	if err := decodeIfSet(creds, &c.Credentials); err != nil {
		return nil, err
	}
	if err := decodeIfSet(flags, &c.Flags); err != nil {
		return nil, err
	}
	c.Notes = notes.String

	if c.UpdatedAt, err = storage.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// mergeJSON runs a read-transform-write cycle on one JSON column of the
// session's current context row. No-op when the session has no context row.
func (t *Tracker) mergeJSON(ctx context.Context, sessionID, column string, fn func(raw sql.NullString) (any, error)) error {
	return t.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, raw, err := currentRow(ctx, tx, sessionID, column)
		if err != nil || id == 0 {
			return err
		}
		merged, err := fn(raw)
		if err != nil {
			return err
		}
		b, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("labctx: marshal %s: %w", column, err)
		}
		return writeColumn(ctx, tx, id, column, string(b))
	})
}

// currentRow reads one column of the latest context row for a session.
// A zero context id means the session has no context row.
//
// column is always one of the fixed schema column names, never caller input.
func currentRow(ctx context.Context, tx *sql.Tx, sessionID, column string) (int64, sql.NullString, error) {
	var (
		id  int64
		raw sql.NullString
	)
	query := fmt.Sprintf(`
		SELECT context_id, %s FROM lab_context
		WHERE session_id = ?
		ORDER BY context_id DESC LIMIT 1`, column)
	err := tx.QueryRowContext(ctx, query, sessionID).Scan(&id, &raw)
	if err == sql.ErrNoRows {
		return 0, sql.NullString{}, nil
	}
	if err != nil {
		return 0, sql.NullString{}, fmt.Errorf("labctx: read %s: %w", column, err)
	}
	return id, raw, nil
}

func writeColumn(ctx context.Context, tx *sql.Tx, contextID int64, column, value string) error {
	query := fmt.Sprintf(`UPDATE lab_context SET %s = ?, updated_at = ? WHERE context_id = ?`, column)
	_, err := tx.ExecContext(ctx, query, value, storage.FormatTime(storage.Now()), contextID)
	if err != nil {
		return fmt.Errorf("labctx: write %s: %w", column, err)
	}
	return nil
}

// decodeIfSet unmarshals a JSON column into dst when the column is non-NULL.
// A NULL column leaves dst at its zero value.
func decodeIfSet(raw sql.NullString, dst any) error {
	if !raw.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("labctx: unmarshal context field: %w", err)
	}
	return nil
}
