// Package report derives read-only views over a session: the agent-facing
// context digest, aggregate statistics and full export snapshots, plus
// formatters for writing exports out.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/0x6d61/labvault/internal/labctx"
	"github.com/0x6d61/labvault/internal/message"
	"github.com/0x6d61/labvault/internal/session"
	"github.com/0x6d61/labvault/internal/storage"
)

// NoContextSummary is returned by AgentSummary when the session does not
// exist. Absence is not an error here: the agent simply starts fresh.
const NoContextSummary = "Nueva sesión sin contexto previo."

// Statistics aggregates a session's activity.
type Statistics struct {
	MessageCounts map[string]int `json:"message_counts"`
	TotalMessages int            `json:"total_messages"`
	ToolCallCount int            `json:"tool_usage_count"`
	DurationDays  float64        `json:"duration_days"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActive    time.Time      `json:"last_active"`
}

// Report is a full read-only snapshot of one session. No pagination: meant
// for offline analysis, not interactive display of long sessions.
type Report struct {
	Session    *session.Session   `json:"session"`
	Messages   []*message.Message `json:"messages"`
	Context    *labctx.Context    `json:"lab_context"`
	Statistics *Statistics        `json:"statistics"`
	ExportedAt time.Time          `json:"exported_at"`
}

// Builder produces the derived views. It only reads.
type Builder struct {
	sessions *session.Store
	messages *message.Log
	contexts *labctx.Tracker
}

// NewBuilder creates a builder over the three stores.
func NewBuilder(sessions *session.Store, messages *message.Log, contexts *labctx.Tracker) *Builder {
	return &Builder{sessions: sessions, messages: messages, contexts: contexts}
}

// AgentSummary renders the fixed-order human-readable context digest injected
// into the agent prompt. An absent session yields NoContextSummary, never an
// error.
func (b *Builder) AgentSummary(ctx context.Context, sessionID string) (string, error) {
	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return NoContextSummary, nil
	}

	lab, err := b.contexts.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	name := sess.Name
	if name == "" {
		name = sess.ID
	}
	parts := []string{fmt.Sprintf("=== SESIÓN ACTUAL: %s ===\n", name)}

	if sess.LabEnvironment != "" {
		parts = append(parts, "Plataforma: "+sess.LabEnvironment)
	}
	if sess.LabTarget != "" {
		parts = append(parts, "Objetivo: "+sess.LabTarget)
	}
	if sess.LabObjective != "" {
		parts = append(parts, "Meta: "+sess.LabObjective)
	}

	if lab != nil {
		parts = append(parts, "\nFase actual: "+lab.Phase)

		if len(lab.OpenPorts) > 0 {
			ports := make([]string, len(lab.OpenPorts))
			for i, p := range lab.OpenPorts {
				ports[i] = fmt.Sprintf("%d", p)
			}
			parts = append(parts, "Puertos abiertos: "+strings.Join(ports, ", "))
		}

		if len(lab.Services) > 0 {
			services := lab.Services
			if len(services) > 5 {
				services = services[:5]
			}
			pairs := make([]string, len(services))
			for i, s := range services {
				pairs[i] = fmt.Sprintf("%d/%s", s.Port, s.Service)
			}
			parts = append(parts, "Servicios: "+strings.Join(pairs, ", "))
		}

		if len(lab.Vulnerabilities) > 0 {
			parts = append(parts, fmt.Sprintf("Vulnerabilidades encontradas: %d", len(lab.Vulnerabilities)))
		}

		// Flag badges are presence-only: values never leak into the prompt.
		if lab.Flags["user_flag"] != "" {
			parts = append(parts, "✓ User flag capturada")
		}
		if lab.Flags["root_flag"] != "" {
			parts = append(parts, "✓ Root flag capturada")
		}
	}

	return strings.Join(parts, "\n"), nil
}

// BuildStatistics computes a session's statistics, or (nil, nil) when the
// session does not exist.
func (b *Builder) BuildStatistics(ctx context.Context, sessionID string) (*Statistics, error) {
	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	counts, err := b.messages.CountByRole(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	toolCalls, err := b.messages.CountToolCalls(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Statistics{
		MessageCounts: counts,
		TotalMessages: total,
		ToolCallCount: toolCalls,
		DurationDays:  sess.LastActive.Sub(sess.CreatedAt).Hours() / 24,
		CreatedAt:     sess.CreatedAt,
		LastActive:    sess.LastActive,
	}, nil
}

// Export builds a full snapshot of the session, or (nil, nil) when the
// session does not exist.
func (b *Builder) Export(ctx context.Context, sessionID string) (*Report, error) {
	sess, err := b.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	messages, err := b.messages.Get(ctx, sessionID, 0, "")
	if err != nil {
		return nil, err
	}
	lab, err := b.contexts.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	stats, err := b.BuildStatistics(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Report{
		Session:    sess,
		Messages:   messages,
		Context:    lab,
		Statistics: stats,
		ExportedAt: storage.Now(),
	}, nil
}

// Reporter writes a session report in a specific format.
type Reporter interface {
	// Format returns the format name (e.g., "text", "json").
	Format() string

	// Generate writes the formatted report to w.
	Generate(ctx context.Context, r *Report, w io.Writer) error
}

// New creates a reporter by format name ("text" or "json").
// The format name is case-insensitive.
func New(format string) (Reporter, error) {
	switch strings.ToLower(format) {
	case "text":
		return &TextReporter{}, nil
	case "json":
		return &JSONReporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported report format: %q", format)
	}
}
