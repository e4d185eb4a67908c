package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/0x6d61/labvault/internal/session"
	"github.com/0x6d61/labvault/internal/storage"
	"github.com/0x6d61/labvault/internal/tools"
)

func newTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStartAndResume(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := Start(ctx, db, StartParams{Name: "HTB - Lame", LabTarget: "10.10.10.3"})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if rec.SessionID() == "" {
		t.Fatal("Start produced an empty session id")
	}

	if err := rec.End(ctx, false); err != nil {
		t.Fatalf("End returned error: %v", err)
	}

	resumed, err := Resume(ctx, db, rec.SessionID())
	if err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	if resumed.SessionID() != rec.SessionID() {
		t.Errorf("resumed id = %s, want %s", resumed.SessionID(), rec.SessionID())
	}

	// Resuming reactivates a paused session.
	sess, err := session.NewStore(db).Get(ctx, rec.SessionID())
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if sess.Status != session.StatusActive {
		t.Errorf("resumed status = %q, want %q", sess.Status, session.StatusActive)
	}
}

func TestResumeMissingSession(t *testing.T) {
	db := newTestDB(t)

	_, err := Resume(context.Background(), db, "no-such-session")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Resume error = %v, want ErrSessionNotFound", err)
	}
	if !strings.Contains(err.Error(), "no-such-session") {
		t.Errorf("error %q does not name the session id", err)
	}
}

func TestEndStatuses(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	store := session.NewStore(db)

	for _, tc := range []struct {
		completed bool
		want      string
	}{
		{true, session.StatusCompleted},
		{false, session.StatusPaused},
	} {
		rec, err := Start(ctx, db, StartParams{})
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
		if err := rec.End(ctx, tc.completed); err != nil {
			t.Fatalf("End(%v) returned error: %v", tc.completed, err)
		}
		sess, err := store.Get(ctx, rec.SessionID())
		if err != nil {
			t.Fatalf("Get session: %v", err)
		}
		if sess.Status != tc.want {
			t.Errorf("End(%v) status = %q, want %q", tc.completed, sess.Status, tc.want)
		}
	}
}

func TestRecorderConversationFlow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := Start(ctx, db, StartParams{
		Name:           "HTB - Lame",
		LabEnvironment: "HTB",
		LabTarget:      "10.10.10.3",
	})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	if _, err := rec.AddUserMessage(ctx, "scan the box"); err != nil {
		t.Fatalf("AddUserMessage returned error: %v", err)
	}
	if _, err := rec.AddAssistantMessage(ctx, "scanning",
		[]map[string]any{{"tool": "nmap_scan"}},
		[]map[string]any{{"status": "success"}},
	); err != nil {
		t.Fatalf("AddAssistantMessage returned error: %v", err)
	}

	turns, err := rec.History(ctx, 10)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Fatalf("History = %+v, want user then assistant", turns)
	}

	if err := rec.UpdatePhase(ctx, "exploitation"); err != nil {
		t.Fatalf("UpdatePhase returned error: %v", err)
	}
	if err := rec.AddPorts(ctx, []int{21, 445}); err != nil {
		t.Fatalf("AddPorts returned error: %v", err)
	}
	if err := rec.AddService(ctx, 21, "ftp", "vsftpd 2.3.4"); err != nil {
		t.Fatalf("AddService returned error: %v", err)
	}
	if err := rec.AddVulnerability(ctx, "vsftpd backdoor", "smiley backdoor", "critical"); err != nil {
		t.Fatalf("AddVulnerability returned error: %v", err)
	}
	if err := rec.AddFinding(ctx, "service", "anonymous FTP", "medium"); err != nil {
		t.Fatalf("AddFinding returned error: %v", err)
	}
	if err := rec.AddCredential(ctx, "msfadmin", "msfadmin", "ssh"); err != nil {
		t.Fatalf("AddCredential returned error: %v", err)
	}
	if err := rec.SetFlag(ctx, "root_flag", "deadbeef"); err != nil {
		t.Fatalf("SetFlag returned error: %v", err)
	}
	if err := rec.AddNotes(ctx, "box owned via vsftpd"); err != nil {
		t.Fatalf("AddNotes returned error: %v", err)
	}

	lab, err := rec.Context(ctx)
	if err != nil {
		t.Fatalf("Context returned error: %v", err)
	}
	if lab.Phase != "exploitation" {
		t.Errorf("Phase = %q, want exploitation", lab.Phase)
	}
	if !reflect.DeepEqual(lab.OpenPorts, []int{21, 445}) {
		t.Errorf("OpenPorts = %v, want [21 445]", lab.OpenPorts)
	}
	if len(lab.Vulnerabilities) != 1 || len(lab.Findings) != 1 || len(lab.Credentials) != 1 {
		t.Errorf("context collections = %d/%d/%d vulns/findings/creds, want 1 each",
			len(lab.Vulnerabilities), len(lab.Findings), len(lab.Credentials))
	}

	summary, err := rec.ContextSummary(ctx)
	if err != nil {
		t.Fatalf("ContextSummary returned error: %v", err)
	}
	for _, want := range []string{
		"=== SESIÓN ACTUAL: HTB - Lame ===",
		"Puertos abiertos: 21, 445",
		"✓ Root flag capturada",
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	stats, err := rec.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics returned error: %v", err)
	}
	if stats.TotalMessages != 2 || stats.ToolCallCount != 1 {
		t.Errorf("stats = %+v, want 2 messages and 1 tool call", stats)
	}

	rep, err := rec.ExportReport(ctx)
	if err != nil {
		t.Fatalf("ExportReport returned error: %v", err)
	}
	if len(rep.Messages) != 2 || rep.Context == nil || rep.Statistics == nil {
		t.Error("export snapshot incomplete")
	}

	results, err := rec.Search(ctx, "scan", 10)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Search returned %d results, want 2", len(results))
	}
}

func TestMergeToolResult(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := Start(ctx, db, StartParams{})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	err = rec.MergeToolResult(ctx, &tools.Result{
		Status:    tools.StatusSuccess,
		Tool:      "nmap",
		OpenPorts: []int{21, 22},
		Services: []tools.ServiceInfo{
			{Port: 21, Name: "ftp", Version: "vsftpd 2.3.4"},
		},
	})
	if err != nil {
		t.Fatalf("MergeToolResult returned error: %v", err)
	}

	lab, err := rec.Context(ctx)
	if err != nil {
		t.Fatalf("Context returned error: %v", err)
	}
	if !reflect.DeepEqual(lab.OpenPorts, []int{21, 22}) {
		t.Errorf("OpenPorts = %v, want [21 22]", lab.OpenPorts)
	}
	if len(lab.Services) != 1 || lab.Services[0].Version != "vsftpd 2.3.4" {
		t.Errorf("Services = %+v, want the ftp identification", lab.Services)
	}
}

func TestMergeToolResultIgnoresFailures(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec, err := Start(ctx, db, StartParams{})
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	// Error results and nil results are no-ops, not errors.
	if err := rec.MergeToolResult(ctx, &tools.Result{
		Status:    tools.StatusError,
		OpenPorts: []int{9999},
	}); err != nil {
		t.Fatalf("MergeToolResult(error result) returned error: %v", err)
	}
	if err := rec.MergeToolResult(ctx, nil); err != nil {
		t.Fatalf("MergeToolResult(nil) returned error: %v", err)
	}

	lab, err := rec.Context(ctx)
	if err != nil {
		t.Fatalf("Context returned error: %v", err)
	}
	if lab.OpenPorts != nil {
		t.Errorf("OpenPorts = %v, want nil after failed-result merges", lab.OpenPorts)
	}
}
