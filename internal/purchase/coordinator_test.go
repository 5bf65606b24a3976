package purchase

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/store"
	"github.com/dukerupert/keyledger/internal/token"
)

var paidAt = time.Date(2025, 4, 2, 15, 30, 0, 0, time.UTC)

func setupCoordinator(t *testing.T) (*Coordinator, *sql.DB, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	acct, err := store.NewAccountStore(db).Create(context.Background(), store.NewAccount{
		Username: "alice", Email: "alice@example.com", PasswordHash: "x", EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New(db, token.NewGenerator(nil), ledger.Standing, logger)
	c := NewCoordinator(db, l, logger, WithClock(func() time.Time { return paidAt }))
	return c, db, acct.ID
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestPurchasePro(t *testing.T) {
	c, _, accountID := setupCoordinator(t)
	ctx := context.Background()

	r, err := c.Purchase(ctx, accountID, "Pro")
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if len(r.Keys) != 2 {
		t.Errorf("keys = %d, want 2", len(r.Keys))
	}
	if r.Purchase.AmountCents != 1999 {
		t.Errorf("amount = %d, want 1999", r.Purchase.AmountCents)
	}
	if r.Purchase.Amount() != "19.99" {
		t.Errorf("amount = %q, want 19.99", r.Purchase.Amount())
	}
	if r.Purchase.Currency != "USD" {
		t.Errorf("currency = %q, want USD", r.Purchase.Currency)
	}
	if !r.Purchase.PaidAt.Equal(paidAt) {
		t.Errorf("paid at = %v, want %v", r.Purchase.PaidAt, paidAt)
	}
	for _, k := range r.Keys {
		if k.AccountID != accountID || k.IsUsed {
			t.Errorf("key %+v: want unused key owned by %d", k, accountID)
		}
	}

	keys, err := c.PurchaseKeys(ctx, accountID, r.Purchase.ID)
	if err != nil {
		t.Fatalf("purchase keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("linked keys = %d, want 2", len(keys))
	}
	for i := range keys {
		if keys[i].Key != r.Keys[i].Key {
			t.Errorf("linked key %d = %q, want %q", i, keys[i].Key, r.Keys[i].Key)
		}
	}
}

func TestPurchasePlans(t *testing.T) {
	tests := []struct {
		plan  string
		keys  int
		cents int64
	}{
		{"Basic", 1, 999},
		{"pro", 2, 1999},
		{"ENTERPRISE", 5, 4999},
	}
	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			c, _, accountID := setupCoordinator(t)
			r, err := c.Purchase(context.Background(), accountID, tt.plan)
			if err != nil {
				t.Fatalf("purchase: %v", err)
			}
			if len(r.Keys) != tt.keys {
				t.Errorf("keys = %d, want %d", len(r.Keys), tt.keys)
			}
			if r.Purchase.AmountCents != tt.cents {
				t.Errorf("amount = %d, want %d", r.Purchase.AmountCents, tt.cents)
			}
		})
	}
}

func TestPurchaseUnknownPlan(t *testing.T) {
	c, db, accountID := setupCoordinator(t)

	_, err := c.Purchase(context.Background(), accountID, "Platinum")
	if !errors.Is(err, model.ErrUnknownPlan) {
		t.Fatalf("err = %v, want ErrUnknownPlan", err)
	}
	if n := countRows(t, db, "license_keys"); n != 0 {
		t.Errorf("license_keys = %d, want 0", n)
	}
}

func TestPurchaseRollsBack(t *testing.T) {
	tests := []struct {
		name    string
		trigger string
	}{
		{
			"purchase insert fails",
			`CREATE TRIGGER fail_purchase BEFORE INSERT ON purchases
			 BEGIN SELECT RAISE(ABORT, 'injected failure'); END`,
		},
		{
			"second key insert fails",
			`CREATE TRIGGER fail_second_key BEFORE INSERT ON license_keys
			 WHEN (SELECT COUNT(*) FROM license_keys) >= 1
			 BEGIN SELECT RAISE(ABORT, 'injected failure'); END`,
		},
		{
			"key link fails",
			`CREATE TRIGGER fail_link BEFORE INSERT ON purchase_keys
			 BEGIN SELECT RAISE(ABORT, 'injected failure'); END`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, db, accountID := setupCoordinator(t)
			if _, err := db.Exec(tt.trigger); err != nil {
				t.Fatalf("create trigger: %v", err)
			}

			_, err := c.Purchase(context.Background(), accountID, "Enterprise")
			if !errors.Is(err, model.ErrStorageFailure) {
				t.Fatalf("err = %v, want ErrStorageFailure", err)
			}
			for _, table := range []string{"license_keys", "purchases", "purchase_keys"} {
				if n := countRows(t, db, table); n != 0 {
					t.Errorf("%s = %d after failed purchase, want 0", table, n)
				}
			}
		})
	}
}

func TestListPurchases(t *testing.T) {
	c, _, accountID := setupCoordinator(t)
	ctx := context.Background()

	c.Purchase(ctx, accountID, "Basic")
	c.Purchase(ctx, accountID, "Pro")

	purchases, err := c.ListPurchases(ctx, accountID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(purchases) != 2 {
		t.Fatalf("len = %d, want 2", len(purchases))
	}
	if purchases[0].Plan != "Pro" {
		t.Errorf("first = %q, want most recent (Pro)", purchases[0].Plan)
	}
}

func TestPurchaseKeysOtherAccount(t *testing.T) {
	c, db, accountID := setupCoordinator(t)
	ctx := context.Background()

	other, err := store.NewAccountStore(db).Create(ctx, store.NewAccount{
		Username: "mallory", Email: "m@example.com", PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	r, _ := c.Purchase(ctx, accountID, "Basic")

	if _, err := c.PurchaseKeys(ctx, other.ID, r.Purchase.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := c.PurchaseKeys(ctx, accountID, 9999); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing purchase: err = %v, want ErrNotFound", err)
	}
}

func TestLookupPlan(t *testing.T) {
	p, err := LookupPlan(" basic ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.Name != "Basic" || p.Price != "9.99" {
		t.Errorf("plan = %+v, want Basic at 9.99", p)
	}
	if len(Plans()) != 3 {
		t.Errorf("plans = %d, want 3", len(Plans()))
	}
}
