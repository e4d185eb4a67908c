// Package agent is the high-level integration surface for the conversational
// agent runtime: an explicit session handle that records turns, merges tool
// results into the lab context and rebuilds the prompt context on demand.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/0x6d61/labvault/internal/labctx"
	"github.com/0x6d61/labvault/internal/message"
	"github.com/0x6d61/labvault/internal/report"
	"github.com/0x6d61/labvault/internal/session"
	"github.com/0x6d61/labvault/internal/storage"
)

// ErrSessionNotFound is returned by Resume when the identifier does not match
// a stored session. Resuming a missing session is the one place absence is a
// hard error: continuing silently would corrupt the caller's session handle.
var ErrSessionNotFound = errors.New("session not found")

// StartParams holds the optional attributes of a new session.
type StartParams struct {
	Name           string
	LabEnvironment string
	LabTarget      string
	LabObjective   string
}

// Recorder is an explicit handle to one session. All state lives in the
// database; the handle carries only the identifier, so callers thread it
// through their calls instead of relying on shared mutable state.
type Recorder struct {
	sessionID string

	sessions *session.Store
	messages *message.Log
	contexts *labctx.Tracker
	builder  *report.Builder
}

// Start creates a new session and returns a handle bound to it.
func Start(ctx context.Context, db *storage.DB, p StartParams) (*Recorder, error) {
	r := newRecorder(db)
	id, err := r.sessions.Create(ctx, session.CreateParams{
		Name:           p.Name,
		LabEnvironment: p.LabEnvironment,
		LabTarget:      p.LabTarget,
		LabObjective:   p.LabObjective,
	})
	if err != nil {
		return nil, err
	}
	r.sessionID = id
	return r, nil
}

// Resume re-opens an existing session, marking it active again. Returns
// ErrSessionNotFound (wrapped with the identifier) when no such session
// exists; callers typically fall back to Start.
func Resume(ctx context.Context, db *storage.DB, sessionID string) (*Recorder, error) {
	r := newRecorder(db)
	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("agent: session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err := r.sessions.UpdateStatus(ctx, sessionID, session.StatusActive); err != nil {
		return nil, err
	}
	r.sessionID = sessionID
	return r, nil
}

func newRecorder(db *storage.DB) *Recorder {
	sessions := session.NewStore(db)
	messages := message.NewLog(db)
	contexts := labctx.NewTracker(db)
	return &Recorder{
		sessions: sessions,
		messages: messages,
		contexts: contexts,
		builder:  report.NewBuilder(sessions, messages, contexts),
	}
}

// SessionID returns the identifier of the bound session. It doubles as the
// resumption token.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// AddUserMessage records a user turn.
func (r *Recorder) AddUserMessage(ctx context.Context, content string) (int64, error) {
	return r.messages.Add(ctx, &message.Message{
		SessionID: r.sessionID,
		Role:      "user",
		Content:   content,
	})
}

// AddAssistantMessage records an assistant turn along with any tool calls it
// made and their results.
func (r *Recorder) AddAssistantMessage(ctx context.Context, content string, toolCalls, toolResults []map[string]any) (int64, error) {
	return r.messages.Add(ctx, &message.Message{
		SessionID:   r.sessionID,
		Role:        "assistant",
		Content:     content,
		ToolCalls:   toolCalls,
		ToolResults: toolResults,
	})
}

// History returns up to maxMessages recent turns in {role, content} form.
func (r *Recorder) History(ctx context.Context, maxMessages int) ([]message.Turn, error) {
	return r.messages.History(ctx, r.sessionID, maxMessages)
}

// UpdatePhase sets the current phase label.
func (r *Recorder) UpdatePhase(ctx context.Context, phase string) error {
	return r.contexts.UpdatePhase(ctx, r.sessionID, phase)
}

// AddFinding records a discovery.
func (r *Recorder) AddFinding(ctx context.Context, findingType, description, severity string) error {
	return r.contexts.AddFinding(ctx, r.sessionID, labctx.Finding{
		Type:        findingType,
		Description: description,
		Severity:    severity,
	})
}

// AddPorts merges discovered open ports into the context.
func (r *Recorder) AddPorts(ctx context.Context, ports []int) error {
	return r.contexts.AddPorts(ctx, r.sessionID, ports)
}

// AddService records a service identified on a port.
func (r *Recorder) AddService(ctx context.Context, port int, svc, version string) error {
	return r.contexts.AddService(ctx, r.sessionID, port, svc, version)
}

// AddVulnerability records an identified vulnerability.
func (r *Recorder) AddVulnerability(ctx context.Context, name, description, severity string) error {
	return r.contexts.AddVulnerability(ctx, r.sessionID, labctx.Vulnerability{
		Name:        name,
		Description: description,
		Severity:    severity,
	})
}

// AddCredential records captured credentials.
func (r *Recorder) AddCredential(ctx context.Context, username, password, svc string) error {
	return r.contexts.AddCredential(ctx, r.sessionID, labctx.Credential{
		Username: username,
		Password: password,
		Service:  svc,
	})
}

// SetFlag records a captured flag (user_flag, root_flag, ...).
func (r *Recorder) SetFlag(ctx context.Context, flagType, value string) error {
	return r.contexts.SetFlag(ctx, r.sessionID, flagType, value)
}

// AddNotes appends free-text notes to the context.
func (r *Recorder) AddNotes(ctx context.Context, text string) error {
	return r.contexts.AddNotes(ctx, r.sessionID, text)
}

// Context returns the current structured lab context.
func (r *Recorder) Context(ctx context.Context) (*labctx.Context, error) {
	return r.contexts.Get(ctx, r.sessionID)
}

// ContextSummary renders the prompt-injection digest for this session.
func (r *Recorder) ContextSummary(ctx context.Context) (string, error) {
	return r.builder.AgentSummary(ctx, r.sessionID)
}

// Statistics returns the session's aggregate statistics.
func (r *Recorder) Statistics(ctx context.Context) (*report.Statistics, error) {
	return r.builder.BuildStatistics(ctx, r.sessionID)
}

// ExportReport builds the full session snapshot.
func (r *Recorder) ExportReport(ctx context.Context) (*report.Report, error) {
	return r.builder.Export(ctx, r.sessionID)
}

// Search looks up past messages across all sessions.
func (r *Recorder) Search(ctx context.Context, term string, limit int) ([]*message.SearchResult, error) {
	return r.messages.Search(ctx, term, "", limit)
}

// End closes out the session: completed when the work is done, paused
// otherwise so it can be resumed later.
func (r *Recorder) End(ctx context.Context, completed bool) error {
	status := session.StatusPaused
	if completed {
		status = session.StatusCompleted
	}
	return r.sessions.UpdateStatus(ctx, r.sessionID, status)
}
