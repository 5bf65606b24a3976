package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
)

func setupBackupTestDB(t *testing.T) *BackupStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBackupStore(db)
}

func TestBackupCreateAndComplete(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

	b, err := bs.Create(ctx, "a.db.enc", "keyledger/a.db.enc", start)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if b.Status != model.BackupStatusUploading {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusUploading)
	}

	if err := bs.MarkCompleted(ctx, b.ID, 4096, start.Add(time.Minute)); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	got, err := bs.GetByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.BackupStatusCompleted || got.SizeBytes != 4096 {
		t.Errorf("backup = %+v, want completed with 4096 bytes", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at")
	}

	latest, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.ID != b.ID {
		t.Errorf("latest = %v, want id %d", latest, b.ID)
	}
}

func TestBackupGetMissing(t *testing.T) {
	bs := setupBackupTestDB(t)

	got, err := bs.GetByID(context.Background(), 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestBackupMarkFailedNotLatest(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()

	b, _ := bs.Create(ctx, "a.db.enc", "k/a", time.Now())
	if err := bs.MarkFailed(ctx, b.ID, "upload failed"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ := bs.GetByID(ctx, b.ID)
	if got.Status != model.BackupStatusFailed || got.ErrorMessage != "upload failed" {
		t.Errorf("backup = %+v", got)
	}

	latest, err := bs.LatestCompleted(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected no completed backup, got %+v", latest)
	}
}

func TestBackupListAndDeleteOlderThan(t *testing.T) {
	bs := setupBackupTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, key := range []string{"k/1", "k/2", "k/3"} {
		if _, err := bs.Create(ctx, key, key, base.Add(time.Duration(i)*24*time.Hour)); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}

	list, err := bs.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ObjectKey != "k/3" {
		t.Errorf("list = %+v, want newest first", list)
	}

	keys, err := bs.DeleteOlderThan(ctx, base.Add(36*time.Hour))
	if err != nil {
		t.Fatalf("delete older: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("deleted keys = %v, want 2", keys)
	}

	list, _ = bs.List(ctx, 10)
	if len(list) != 1 || list[0].ObjectKey != "k/3" {
		t.Errorf("remaining = %+v, want only k/3", list)
	}
}
