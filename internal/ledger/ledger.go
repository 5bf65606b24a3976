// Package ledger issues license keys to accounts and answers whether a key
// is still valid.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/store"
	"github.com/dukerupert/keyledger/internal/token"
)

// MaxKeyAttempts bounds how many candidates are generated for one key
// before giving up on collisions.
const MaxKeyAttempts = 8

// Policy decides whether validating a key consumes it.
type Policy string

const (
	// Standing keys stay valid through any number of validations.
	Standing Policy = "standing"
	// SingleUse keys are consumed by their first successful validation.
	SingleUse Policy = "single-use"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case Standing, SingleUse:
		return p, nil
	case "":
		return Standing, nil
	}
	return "", fmt.Errorf("unknown key policy %q", s)
}

type Ledger struct {
	db       *sql.DB
	keys     *store.LicenseKeyStore
	accounts *store.AccountStore
	gen      *token.Generator
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Ledger)

// WithClock sets the time used for issue and redemption timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(db *sql.DB, gen *token.Generator, policy Policy, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		db:       db,
		keys:     store.NewLicenseKeyStore(db),
		accounts: store.NewAccountStore(db),
		gen:      gen,
		policy:   policy,
		now:      time.Now,
		logger:   logger.With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// IssueKeys mints count keys for accountID in their own transaction.
func (l *Ledger) IssueKeys(ctx context.Context, accountID int64, count int) ([]model.LicenseKey, error) {
	var keys []model.LicenseKey
	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		var err error
		keys, err = l.IssueKeysTx(ctx, tx, accountID, count)
		return err
	})
	if err != nil {
		return nil, wrapStorage("issue keys", err)
	}
	return keys, nil
}

// IssueKeysTx mints count keys inside tx. The caller commits or rolls back.
func (l *Ledger) IssueKeysTx(ctx context.Context, tx *sql.Tx, accountID int64, count int) ([]model.LicenseKey, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: key count must be positive", model.ErrInvalidInput)
	}
	owner, err := l.accounts.WithTx(tx).GetByID(ctx, accountID)
	if err != nil {
		return nil, model.Storage("issue keys", err)
	}
	if owner == nil {
		return nil, model.ErrNotFound
	}

	keys := l.keys.WithTx(tx)
	issued := make([]model.LicenseKey, 0, count)
	for range count {
		lk, err := l.issueOne(ctx, keys, owner)
		if err != nil {
			return nil, err
		}
		issued = append(issued, *lk)
	}
	l.logger.InfoContext(ctx, "license keys issued", "account_id", accountID, "count", count)
	return issued, nil
}

func (l *Ledger) issueOne(ctx context.Context, keys *store.LicenseKeyStore, owner *model.Account) (*model.LicenseKey, error) {
	for attempt := 1; attempt <= MaxKeyAttempts; attempt++ {
		candidate := l.gen.LicenseKey(owner.Username)
		lk, err := keys.Create(ctx, owner.ID, candidate, l.now())
		if errors.Is(err, store.ErrDuplicateKey) {
			l.logger.DebugContext(ctx, "license key collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, model.Storage("insert license key", err)
		}
		return lk, nil
	}
	return nil, model.Storage("insert license key",
		fmt.Errorf("no unique key after %d attempts", MaxKeyAttempts))
}

// ValidateKey reports who owns an unused key. Under the SingleUse policy a
// successful validation also marks the key used.
func (l *Ledger) ValidateKey(ctx context.Context, key string) (*model.KeyInfo, error) {
	if l.policy == SingleUse {
		return l.Redeem(ctx, key)
	}
	info, err := l.keys.GetUnused(ctx, key)
	if err != nil {
		return nil, model.Storage("validate key", err)
	}
	if info == nil {
		return nil, model.ErrInvalidKey
	}
	return info, nil
}

// Redeem marks an unused key used and returns its details. Of several
// concurrent redemptions of the same key exactly one succeeds.
func (l *Ledger) Redeem(ctx context.Context, key string) (*model.KeyInfo, error) {
	var info *model.KeyInfo
	err := database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		keys := l.keys.WithTx(tx)
		var err error
		info, err = keys.GetUnused(ctx, key)
		if err != nil {
			return model.Storage("redeem key", err)
		}
		if info == nil {
			return model.ErrInvalidKey
		}
		ok, err := keys.MarkUsed(ctx, key, l.now())
		if err != nil {
			return model.Storage("redeem key", err)
		}
		if !ok {
			return model.ErrInvalidKey
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("redeem key", err)
	}
	l.logger.InfoContext(ctx, "license key redeemed", "owner", info.OwnerUsername)
	return info, nil
}

// SetUsed revokes (used=true) or reinstates a key.
func (l *Ledger) SetUsed(ctx context.Context, key string, used bool) error {
	ok, err := l.keys.SetUsed(ctx, key, used, l.now())
	if err != nil {
		return model.Storage("set key status", err)
	}
	if !ok {
		return model.ErrNotFound
	}
	l.logger.InfoContext(ctx, "license key status changed", "used", used)
	return nil
}

func (l *Ledger) ListByAccount(ctx context.Context, accountID int64) ([]model.LicenseKey, error) {
	keys, err := l.keys.ListByAccountID(ctx, accountID)
	if err != nil {
		return nil, model.Storage("list keys", err)
	}
	return keys, nil
}

// wrapStorage leaves domain errors alone and marks anything else, such as a
// failed commit, as a storage failure.
func wrapStorage(op string, err error) error {
	for _, known := range []error{
		model.ErrStorageFailure, model.ErrNotFound, model.ErrInvalidKey, model.ErrInvalidInput,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return model.Storage(op, err)
}
