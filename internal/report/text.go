package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

const (
	doubleLine = "\u2550" // ═
	singleLine = "\u2500" // ─
	lineWidth  = 50
)

// TextReporter outputs plain terminal text.
type TextReporter struct {
	// Verbose includes the full message transcript when > 0.
	Verbose int
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

// Generate writes a formatted session report to w.
func (r *TextReporter) Generate(ctx context.Context, rep *Report, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := &strings.Builder{}

	doubleBar := strings.Repeat(doubleLine, lineWidth)
	singleBar := strings.Repeat(singleLine, lineWidth)

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintln(b, "labvault - Session Report")
	fmt.Fprintln(b, doubleBar)

	sess := rep.Session
	name := sess.Name
	if name == "" {
		name = sess.ID
	}
	fmt.Fprintf(b, "Session: %s\n", name)
	fmt.Fprintf(b, "ID:      %s\n", sess.ID)
	fmt.Fprintf(b, "Status:  %s\n", sess.Status)
	if sess.LabEnvironment != "" {
		fmt.Fprintf(b, "Env:     %s\n", sess.LabEnvironment)
	}
	if sess.LabTarget != "" {
		fmt.Fprintf(b, "Target:  %s\n", sess.LabTarget)
	}
	if sess.LabObjective != "" {
		fmt.Fprintf(b, "Goal:    %s\n", sess.LabObjective)
	}

	if lab := rep.Context; lab != nil {
		fmt.Fprintln(b, singleBar)
		fmt.Fprintf(b, "Phase: %s\n", lab.Phase)
		if len(lab.OpenPorts) > 0 {
			ports := make([]string, len(lab.OpenPorts))
			for i, p := range lab.OpenPorts {
				ports[i] = fmt.Sprintf("%d", p)
			}
			fmt.Fprintf(b, "Open ports: %s\n", strings.Join(ports, ", "))
		}
		for _, s := range lab.Services {
			if s.Version != "" {
				fmt.Fprintf(b, "  %d/%s (%s)\n", s.Port, s.Service, s.Version)
			} else {
				fmt.Fprintf(b, "  %d/%s\n", s.Port, s.Service)
			}
		}
		for _, v := range lab.Vulnerabilities {
			fmt.Fprintf(b, "[%s] %s: %s\n", strings.ToUpper(v.Severity), v.Name, v.Description)
		}
		if len(lab.Credentials) > 0 {
			fmt.Fprintf(b, "Credentials captured: %d\n", len(lab.Credentials))
		}
		if lab.Flags["user_flag"] != "" {
			fmt.Fprintln(b, "User flag: captured")
		}
		if lab.Flags["root_flag"] != "" {
			fmt.Fprintln(b, "Root flag: captured")
		}
		if lab.Notes != "" {
			fmt.Fprintln(b, singleBar)
			fmt.Fprintln(b, "Notes:")
			fmt.Fprintln(b, lab.Notes)
		}
	}

	if stats := rep.Statistics; stats != nil {
		fmt.Fprintln(b, singleBar)
		fmt.Fprintf(b, "Messages: %d", stats.TotalMessages)
		if len(stats.MessageCounts) > 0 {
			var perRole []string
			for _, role := range sortedRoles(stats.MessageCounts) {
				perRole = append(perRole, fmt.Sprintf("%s=%d", role, stats.MessageCounts[role]))
			}
			fmt.Fprintf(b, " (%s)", strings.Join(perRole, ", "))
		}
		fmt.Fprintln(b)
		fmt.Fprintf(b, "Tool calls: %d\n", stats.ToolCallCount)
		fmt.Fprintf(b, "Duration: %.2f day(s)\n", stats.DurationDays)
	}

	if r.Verbose > 0 {
		fmt.Fprintln(b, singleBar)
		for _, m := range rep.Messages {
			fmt.Fprintf(b, "[%s] %s\n", m.Role, m.Content)
		}
	}

	fmt.Fprintln(b, doubleBar)

	_, err := io.WriteString(w, b.String())
	return err
}

// sortedRoles returns the role keys in a stable order for display.
func sortedRoles(counts map[string]int) []string {
	roles := make([]string, 0, len(counts))
	for role := range counts {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
