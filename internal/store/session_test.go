package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewAccountStore(db)
}

func TestSessionCreateAndGet(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	now := time.Now().UTC()
	sess, err := ss.Create(ctx, "token-1", a.ID, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.AccountID != a.ID {
		t.Errorf("account_id = %d, want %d", sess.AccountID, a.ID)
	}

	got, err := ss.GetByToken(ctx, "token-1")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if got == nil || got.ID != sess.ID {
		t.Fatalf("get by token = %v, want id %d", got, sess.ID)
	}

	missing, err := ss.GetByToken(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown token")
	}
}

func TestSessionDeleteByToken(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	now := time.Now().UTC()
	ss.Create(ctx, "token-1", a.ID, now, now.Add(time.Hour))

	if err := ss.DeleteByToken(ctx, "token-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := ss.GetByToken(ctx, "token-1"); got != nil {
		t.Error("expected nil after delete")
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	now := time.Now().UTC()
	ss.Create(ctx, "old", a.ID, now.Add(-2*time.Hour), now.Add(-time.Hour))
	ss.Create(ctx, "live", a.ID, now, now.Add(time.Hour))

	n, err := ss.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
	if got, _ := ss.GetByToken(ctx, "live"); got == nil {
		t.Error("expected live session to remain")
	}
}

func TestSessionDeleteByAccountID(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	now := time.Now().UTC()
	ss.Create(ctx, "t1", a.ID, now, now.Add(time.Hour))
	ss.Create(ctx, "t2", a.ID, now, now.Add(time.Hour))

	if err := ss.DeleteByAccountID(ctx, a.ID); err != nil {
		t.Fatalf("delete by account: %v", err)
	}
	if got, _ := ss.GetByToken(ctx, "t1"); got != nil {
		t.Error("expected t1 deleted")
	}
	if got, _ := ss.GetByToken(ctx, "t2"); got != nil {
		t.Error("expected t2 deleted")
	}
}
