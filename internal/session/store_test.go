package session

import (
	"context"
	"database/sql"
	"testing"

	"github.com/0x6d61/labvault/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *storage.DB) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{
		Name:           "HTB - Nibbles",
		LabEnvironment: "HTB",
		LabTarget:      "10.10.10.75",
		LabObjective:   "user and root flags",
		Metadata:       map[string]any{"difficulty": "easy"},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("generated id length = %d, want 36 (UUID format)", len(id))
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sess == nil {
		t.Fatal("Get returned nil for just-created session")
	}
	if sess.Status != StatusActive {
		t.Errorf("Status = %q, want %q", sess.Status, StatusActive)
	}
	if sess.UserID != DefaultUserID {
		t.Errorf("UserID = %q, want %q", sess.UserID, DefaultUserID)
	}
	if sess.Name != "HTB - Nibbles" {
		t.Errorf("Name = %q, want %q", sess.Name, "HTB - Nibbles")
	}
	if sess.LabTarget != "10.10.10.75" {
		t.Errorf("LabTarget = %q, want %q", sess.LabTarget, "10.10.10.75")
	}
	if sess.Metadata["difficulty"] != "easy" {
		t.Errorf("Metadata[difficulty] = %v, want %q", sess.Metadata["difficulty"], "easy")
	}
	if sess.Archived {
		t.Error("new session is archived")
	}
	if sess.CreatedAt.IsZero() || sess.LastActive.IsZero() {
		t.Error("timestamps not set on create")
	}
}

func TestCreateInsertsInitialContext(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	var phase string
	err = db.QueryRowContext(ctx,
		`SELECT phase FROM lab_context WHERE session_id = ?`, id).Scan(&phase)
	if err != nil {
		t.Fatalf("initial context row missing: %v", err)
	}
	if phase != InitialPhase {
		t.Errorf("phase = %q, want %q", phase, InitialPhase)
	}
}

func TestGetNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	sess, err := store.Get(context.Background(), "nonexistent-id")
	if err != nil {
		t.Fatalf("Get returned error for non-existent id: %v", err)
	}
	if sess != nil {
		t.Error("Get returned non-nil for non-existent id")
	}
}

func TestGetNoMetadataStaysNil(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{Name: "bare"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if sess.Metadata != nil {
		t.Errorf("Metadata = %v, want nil for unset metadata", sess.Metadata)
	}
}

func TestListFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	idA, err := store.Create(ctx, CreateParams{UserID: "alice", Name: "a"})
	if err != nil {
		t.Fatalf("Create a: %v", err)
	}
	idB, err := store.Create(ctx, CreateParams{UserID: "bob", Name: "b"})
	if err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if err := store.UpdateStatus(ctx, idB, StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	all, err := store.List(ctx, "", "", 50)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d sessions, want 2", len(all))
	}

	active, err := store.List(ctx, "", StatusActive, 50)
	if err != nil {
		t.Fatalf("List(status) returned error: %v", err)
	}
	if len(active) != 1 || active[0].ID != idA {
		t.Errorf("List(active) = %d sessions, want just %s", len(active), idA)
	}

	// Conjunctive filters: bob + active matches nothing.
	none, err := store.List(ctx, "bob", StatusActive, 50)
	if err != nil {
		t.Fatalf("List(user, status) returned error: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("List(bob, active) returned %d sessions, want 0", len(none))
	}

	limited, err := store.List(ctx, "", "", 1)
	if err != nil {
		t.Fatalf("List(limit) returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List(limit=1) returned %d sessions, want 1", len(limited))
	}
}

func TestUpdateStatusPermissive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	// Transitions are caller-driven: completed -> active is legal.
	for _, status := range []string{StatusCompleted, StatusActive, StatusPaused} {
		if err := store.UpdateStatus(ctx, id, status); err != nil {
			t.Fatalf("UpdateStatus(%s) returned error: %v", status, err)
		}
		sess, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if sess.Status != status {
			t.Errorf("Status = %q, want %q", sess.Status, status)
		}
	}
}

func TestUpdateStatusMissingIsNoop(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.UpdateStatus(context.Background(), "missing", StatusPaused); err != nil {
		t.Fatalf("UpdateStatus on missing id returned error: %v", err)
	}
}

func TestArchive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := store.Archive(ctx, id); err != nil {
		t.Fatalf("Archive returned error: %v", err)
	}

	sess, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !sess.Archived {
		t.Error("Archived flag not set")
	}
	if sess.Status != StatusArchived {
		t.Errorf("Status = %q, want %q", sess.Status, StatusArchived)
	}
}

func TestDeleteCascades(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	id, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create victim: %v", err)
	}
	other, err := store.Create(ctx, CreateParams{})
	if err != nil {
		t.Fatalf("Create survivor: %v", err)
	}

	for _, sid := range []string{id, other} {
		if err := insertMessage(ctx, db, sid); err != nil {
			t.Fatalf("insert message for %s: %v", sid, err)
		}
	}

	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	var msgCount, ctxCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, id).Scan(&msgCount); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if msgCount != 0 {
		t.Errorf("deleted session still has %d messages", msgCount)
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lab_context WHERE session_id = ?`, id).Scan(&ctxCount); err != nil {
		t.Fatalf("count contexts: %v", err)
	}
	if ctxCount != 0 {
		t.Errorf("deleted session still has %d context rows", ctxCount)
	}

	// The other session is untouched.
	sess, err := store.Get(ctx, other)
	if err != nil {
		t.Fatalf("Get survivor: %v", err)
	}
	if sess == nil {
		t.Fatal("survivor session was deleted")
	}
	var otherMsgs int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, other).Scan(&otherMsgs); err != nil {
		t.Fatalf("count survivor messages: %v", err)
	}
	if otherMsgs != 1 {
		t.Errorf("survivor has %d messages, want 1", otherMsgs)
	}
}

// insertMessage writes a raw message row so cascade behavior can be checked
// without importing the message package (which would cycle through this one).
func insertMessage(ctx context.Context, db *storage.DB, sessionID string) error {
	return db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, role, content, timestamp)
			VALUES (?, 'user', 'hello', ?)`,
			sessionID, storage.FormatTime(storage.Now()))
		return err
	})
}
