package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
)

func setupLicenseKeyTestDB(t *testing.T) (*LicenseKeyStore, *PurchaseStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLicenseKeyStore(db), NewPurchaseStore(db), NewAccountStore(db)
}

func TestLicenseKeyCreate(t *testing.T) {
	lks, _, as := setupLicenseKeyTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	lk, err := lks.Create(ctx, a.ID, "ABCDEF0123456789ABCD", issued)
	if err != nil {
		t.Fatalf("create license key: %v", err)
	}
	if lk.Key != "ABCDEF0123456789ABCD" {
		t.Errorf("key = %q, want %q", lk.Key, "ABCDEF0123456789ABCD")
	}
	if lk.AccountID != a.ID {
		t.Errorf("account_id = %d, want %d", lk.AccountID, a.ID)
	}
	if lk.IsUsed {
		t.Error("expected new key to be unused")
	}
	if !lk.IssuedAt.Equal(issued) {
		t.Errorf("issued_at = %v, want %v", lk.IssuedAt, issued)
	}
}

func TestLicenseKeyCreateDuplicate(t *testing.T) {
	lks, _, as := setupLicenseKeyTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	if _, err := lks.Create(ctx, a.ID, "SAMEKEY", time.Now()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := lks.Create(ctx, a.ID, "SAMEKEY", time.Now())
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestLicenseKeyRequiresAccount(t *testing.T) {
	lks, _, _ := setupLicenseKeyTestDB(t)

	if _, err := lks.Create(context.Background(), 999, "ORPHAN", time.Now()); err == nil {
		t.Fatal("expected foreign key error for missing account")
	}
}

func TestLicenseKeyGetUnused(t *testing.T) {
	lks, _, as := setupLicenseKeyTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	lks.Create(ctx, a.ID, "KEY1", time.Now())

	info, err := lks.GetUnused(ctx, "KEY1")
	if err != nil {
		t.Fatalf("get unused: %v", err)
	}
	if info == nil {
		t.Fatal("expected key info, got nil")
	}
	if info.OwnerUsername != "alice" {
		t.Errorf("owner = %q, want %q", info.OwnerUsername, "alice")
	}

	missing, err := lks.GetUnused(ctx, "NOPE")
	if err != nil {
		t.Fatalf("get unused missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown key")
	}
}

func TestLicenseKeyMarkUsedOnce(t *testing.T) {
	lks, _, as := setupLicenseKeyTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	lks.Create(ctx, a.ID, "KEY1", time.Now())

	ok, err := lks.MarkUsed(ctx, "KEY1", time.Now())
	if err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if !ok {
		t.Fatal("expected first mark to succeed")
	}

	ok, err = lks.MarkUsed(ctx, "KEY1", time.Now())
	if err != nil {
		t.Fatalf("mark used again: %v", err)
	}
	if ok {
		t.Error("expected second mark to fail")
	}

	lk, _ := lks.GetByKey(ctx, "KEY1")
	if !lk.IsUsed || lk.RedeemedAt == nil {
		t.Errorf("key = %+v, want used with redeemed_at", lk)
	}
	if info, _ := lks.GetUnused(ctx, "KEY1"); info != nil {
		t.Error("expected used key to be excluded from GetUnused")
	}
}

func TestLicenseKeySetUsed(t *testing.T) {
	lks, _, as := setupLicenseKeyTestDB(t)
	ctx := context.Background()

	a := createAccount(t, as, "alice", "alice@example.com")
	lks.Create(ctx, a.ID, "KEY1", time.Now())

	if ok, err := lks.SetUsed(ctx, "KEY1", true, time.Now()); err != nil || !ok {
		t.Fatalf("revoke: ok=%v err=%v", ok, err)
	}
	if ok, err := lks.SetUsed(ctx, "KEY1", false, time.Now()); err != nil || !ok {
		t.Fatalf("reinstate: ok=%v err=%v", ok, err)
	}
	lk, _ := lks.GetByKey(ctx, "KEY1")
	if lk.IsUsed || lk.RedeemedAt != nil {
		t.Errorf("key = %+v, want reinstated", lk)
	}

	ok, err := lks.SetUsed(ctx, "MISSING", true, time.Now())
	if err != nil {
		t.Fatalf("set used missing: %v", err)
	}
	if ok {
		t.Error("expected false for unknown key")
	}
}

func TestLicenseKeyListAndDeleteByAccount(t *testing.T) {
	lks, _, as := setupLicenseKeyTestDB(t)
	ctx := context.Background()

	alice := createAccount(t, as, "alice", "alice@example.com")
	bob := createAccount(t, as, "bob", "bob@example.com")
	lks.Create(ctx, alice.ID, "A1", time.Now())
	lks.Create(ctx, alice.ID, "A2", time.Now())
	lks.Create(ctx, bob.ID, "B1", time.Now())

	keys, err := lks.ListByAccountID(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len = %d, want 2", len(keys))
	}

	if err := lks.DeleteByAccountID(ctx, alice.ID); err != nil {
		t.Fatalf("delete by account: %v", err)
	}
	keys, _ = lks.ListByAccountID(ctx, alice.ID)
	if len(keys) != 0 {
		t.Errorf("len after delete = %d, want 0", len(keys))
	}
	keys, _ = lks.ListByAccountID(ctx, bob.ID)
	if len(keys) != 1 {
		t.Errorf("bob's keys = %d, want 1", len(keys))
	}
}
