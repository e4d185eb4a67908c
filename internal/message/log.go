// Package message provides the append-only log of conversational turns.
// Messages are never updated or deleted; they disappear only when their
// session is deleted and the cascade removes them.
package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/0x6d61/labvault/internal/session"
	"github.com/0x6d61/labvault/internal/storage"
)

// Message is one conversational turn. Role is an open string; by convention
// one of "user", "assistant", "system", "tool".
type Message struct {
	ID          int64            `json:"message_id"`
	SessionID   string           `json:"session_id"`
	Role        string           `json:"role"`
	Content     string           `json:"content"`
	ToolCalls   []map[string]any `json:"tool_calls,omitempty"`
	ToolResults []map[string]any `json:"tool_results,omitempty"`
	Metadata    map[string]any   `json:"message_metadata,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Turn is the reduced {role, content} projection fed to a model context window.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SearchResult is a message joined with its session's identity fields.
type SearchResult struct {
	Message
	SessionName    string `json:"session_name,omitempty"`
	LabEnvironment string `json:"lab_environment,omitempty"`
	LabTarget      string `json:"lab_target,omitempty"`
}

// Log is the message store.
type Log struct {
	db *storage.DB
}

// NewLog creates a message log over db.
func NewLog(db *storage.DB) *Log {
	return &Log{db: db}
}

// Add appends m and stamps the owning session's last_active, both in one
// transaction so they become visible together. On return m.ID and m.Timestamp
// are populated. A missing session surfaces as a foreign key violation.
func (l *Log) Add(ctx context.Context, m *Message) (int64, error) {
	toolCalls, err := marshalIfSet(m.ToolCalls)
	if err != nil {
		return 0, fmt.Errorf("message: marshal tool calls: %w", err)
	}
	toolResults, err := marshalIfSet(m.ToolResults)
	if err != nil {
		return 0, fmt.Errorf("message: marshal tool results: %w", err)
	}
	var metadata sql.NullString
	if m.Metadata != nil {
		b, err := json.Marshal(m.Metadata)
		if err != nil {
			return 0, fmt.Errorf("message: marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	m.Timestamp = storage.Now()

	err = l.db.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (
				session_id, role, content, tool_calls, tool_results,
				message_metadata, timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.SessionID, m.Role, m.Content,
			toolCalls, toolResults, metadata,
			storage.FormatTime(m.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("message: insert message: %w", err)
		}

		m.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("message: last insert id: %w", err)
		}

		return session.Touch(ctx, tx, m.SessionID)
	})
	if err != nil {
		return 0, err
	}
	return m.ID, nil
}

// Get returns messages for a session in ascending timestamp order, optionally
// filtered by role. limit <= 0 means no limit; a positive limit takes the
// oldest messages first.
func (l *Log) Get(ctx context.Context, sessionID string, limit int, role string) ([]*Message, error) {
	query := `
		SELECT message_id, session_id, role, content, tool_calls,
		       tool_results, message_metadata, timestamp
		FROM messages WHERE session_id = ?`
	args := []any{sessionID}

	if role != "" {
		query += " AND role = ?"
		args = append(args, role)
	}
	query += " ORDER BY timestamp ASC, message_id ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("message: query messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate rows: %w", err)
	}
	return messages, nil
}

// History returns up to maxMessages turns in insertion order, dropping tool
// payloads and metadata.
func (l *Log) History(ctx context.Context, sessionID string, maxMessages int) ([]Turn, error) {
	messages, err := l.Get(ctx, sessionID, maxMessages, "")
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, len(messages))
	for i, m := range messages {
		turns[i] = Turn{Role: m.Role, Content: m.Content}
	}
	return turns, nil
}

// Search finds messages containing term (substring match) across all
// sessions, most recent first, joined with session identity fields for
// display. A non-empty userID narrows the search to that user's sessions.
func (l *Log) Search(ctx context.Context, term, userID string, limit int) ([]*SearchResult, error) {
	query := `
		SELECT m.message_id, m.session_id, m.role, m.content, m.tool_calls,
		       m.tool_results, m.message_metadata, m.timestamp,
		       s.session_name, s.lab_environment, s.lab_target
		FROM messages m
		JOIN sessions s ON m.session_id = s.session_id
		WHERE m.content LIKE ?`
	args := []any{"%" + term + "%"}

	if userID != "" {
		query += " AND s.user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY m.timestamp DESC, m.message_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("message: search messages: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var (
			r                 SearchResult
			toolCalls         sql.NullString
			toolResults       sql.NullString
			metadata          sql.NullString
			timestamp         string
			name, env, target sql.NullString
		)
		err := rows.Scan(
			&r.ID, &r.SessionID, &r.Role, &r.Content, &toolCalls,
			&toolResults, &metadata, &timestamp, &name, &env, &target,
		)
		if err != nil {
			return nil, fmt.Errorf("message: scan search row: %w", err)
		}
		if err := decodePayloads(&r.Message, toolCalls, toolResults, metadata); err != nil {
			return nil, err
		}
		if r.Timestamp, err = storage.ParseTime(timestamp); err != nil {
			return nil, err
		}
		r.SessionName = name.String
		r.LabEnvironment = env.String
		r.LabTarget = target.String
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate search rows: %w", err)
	}
	return results, nil
}

// CountByRole returns the number of messages per role for a session. The map
// is empty when the session has no messages.
func (l *Log) CountByRole(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT role, COUNT(*) FROM messages
		WHERE session_id = ? GROUP BY role`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("message: count by role: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			role  string
			count int
		)
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("message: scan count row: %w", err)
		}
		counts[role] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate count rows: %w", err)
	}
	return counts, nil
}

// CountToolCalls returns how many messages carry a tool-call payload.
func (l *Log) CountToolCalls(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE session_id = ? AND tool_calls IS NOT NULL`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("message: count tool calls: %w", err)
	}
	return count, nil
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var (
		m                        Message
		toolCalls, toolResults   sql.NullString
		metadata                 sql.NullString
		timestamp                string
	)
	err := rows.Scan(
		&m.ID, &m.SessionID, &m.Role, &m.Content,
		&toolCalls, &toolResults, &metadata, &timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("message: scan row: %w", err)
	}
	if err := decodePayloads(&m, toolCalls, toolResults, metadata); err != nil {
		return nil, err
	}
	if m.Timestamp, err = storage.ParseTime(timestamp); err != nil {
		return nil, err
	}
	return &m, nil
}

// decodePayloads deserializes the JSON columns. A NULL column leaves the
// field nil ("not set"), distinct from a stored empty collection.
func decodePayloads(m *Message, toolCalls, toolResults, metadata sql.NullString) error {
	if toolCalls.Valid {
		if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
			return fmt.Errorf("message: unmarshal tool calls: %w", err)
		}
	}
	if toolResults.Valid {
		if err := json.Unmarshal([]byte(toolResults.String), &m.ToolResults); err != nil {
			return fmt.Errorf("message: unmarshal tool results: %w", err)
		}
	}
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return fmt.Errorf("message: unmarshal metadata: %w", err)
		}
	}
	return nil
}

// marshalIfSet serializes a payload list, mapping an unset (empty) list to
// NULL so the column stays absent on disk.
func marshalIfSet(items []map[string]any) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
