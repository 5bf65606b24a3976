// Package purchase records simulated purchases and issues the keys each
// plan grants, all in one transaction.
package purchase

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/store"
)

// Receipt is a completed purchase and the keys it issued.
type Receipt struct {
	Purchase model.Purchase     `json:"purchase"`
	Keys     []model.LicenseKey `json:"keys"`
}

type Coordinator struct {
	db        *sql.DB
	ledger    *ledger.Ledger
	purchases *store.PurchaseStore
	keys      *store.LicenseKeyStore
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(db *sql.DB, l *ledger.Ledger, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:        db,
		ledger:    l,
		purchases: store.NewPurchaseStore(db),
		keys:      store.NewLicenseKeyStore(db),
		now:       time.Now,
		logger:    logger.With("component", "purchase"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Purchase buys planName for accountID. Keys, the purchase row and the links
// between them are written together or not at all. The caller checks that
// the account exists and is verified.
func (c *Coordinator) Purchase(ctx context.Context, accountID int64, planName string) (*Receipt, error) {
	plan, err := LookupPlan(planName)
	if err != nil {
		return nil, err
	}

	var receipt Receipt
	err = database.WithTx(ctx, c.db, func(tx *sql.Tx) error {
		keys, err := c.ledger.IssueKeysTx(ctx, tx, accountID, plan.Keys)
		if err != nil {
			return err
		}

		purchases := c.purchases.WithTx(tx)
		p, err := purchases.Create(ctx, accountID, plan.Name, plan.PriceCents, plan.Currency, c.now())
		if err != nil {
			return model.Storage("record purchase", err)
		}
		for _, k := range keys {
			if err := purchases.LinkKey(ctx, p.ID, k.ID); err != nil {
				return model.Storage("record purchase", err)
			}
		}
		receipt = Receipt{Purchase: *p, Keys: keys}
		return nil
	})
	if err != nil {
		if !errors.Is(err, model.ErrStorageFailure) && !errors.Is(err, model.ErrNotFound) {
			err = model.Storage("purchase", err)
		}
		c.logger.ErrorContext(ctx, "purchase failed", "account_id", accountID, "plan", plan.Name, "error", err)
		return nil, err
	}

	c.logger.InfoContext(ctx, "purchase completed",
		"account_id", accountID,
		"plan", plan.Name,
		"purchase_id", receipt.Purchase.ID,
		"keys", len(receipt.Keys),
	)
	return &receipt, nil
}

func (c *Coordinator) ListPurchases(ctx context.Context, accountID int64) ([]model.Purchase, error) {
	purchases, err := c.purchases.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, model.Storage("list purchases", err)
	}
	return purchases, nil
}

// PurchaseKeys returns the keys issued by one of accountID's purchases.
// Purchases belonging to other accounts are reported as not found.
func (c *Coordinator) PurchaseKeys(ctx context.Context, accountID, purchaseID int64) ([]model.LicenseKey, error) {
	p, err := c.purchases.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, model.Storage("get purchase", err)
	}
	if p == nil || p.AccountID != accountID {
		return nil, model.ErrNotFound
	}
	keys, err := c.keys.ListByPurchaseID(ctx, purchaseID)
	if err != nil {
		return nil, model.Storage("list purchase keys", err)
	}
	return keys, nil
}
