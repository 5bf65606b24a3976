package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dukerupert/keyledger/internal/database"
)

func TestIsUniqueViolation(t *testing.T) {
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	insert := func(username, email string) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO accounts (username, email, password_hash) VALUES (?, ?, 'x')`, username, email)
		return err
	}
	if err := insert("alice", "alice@example.com"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dupErr := insert("alice", "other@example.com")
	if dupErr == nil {
		t.Fatal("expected duplicate username error")
	}
	wrapped := fmt.Errorf("insert account: %w", dupErr)

	tests := []struct {
		name   string
		err    error
		column string
		want   bool
	}{
		{"matching column", dupErr, "accounts.username", true},
		{"wrapped", wrapped, "accounts.username", true},
		{"other column", dupErr, "accounts.email", false},
		{"plain error with same text", errors.New("UNIQUE constraint failed: accounts.username"), "accounts.username", false},
		{"nil", nil, "accounts.username", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.column); got != tt.want {
				t.Errorf("isUniqueViolation = %v, want %v", got, tt.want)
			}
		})
	}
}
