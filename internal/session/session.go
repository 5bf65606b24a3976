// Package session issues and checks login sessions. A session is valid for
// a fixed window after it is issued.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/model"
)

// DefaultWindow is how long a session stays valid.
const DefaultWindow = 30 * 24 * time.Hour

// Claims is what a backend recovers from a token.
type Claims struct {
	ID        string
	AccountID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Backend stores or encodes sessions. Lookup reports model.ErrInvalidSession
// for tokens it does not recognise; expiry is checked by the Manager.
type Backend interface {
	Issue(ctx context.Context, accountID int64, issuedAt, expiresAt time.Time) (string, error)
	Lookup(ctx context.Context, token string) (Claims, error)
	Revoke(ctx context.Context, token string) error
}

// AccountGetter re-reads the account behind a session.
type AccountGetter interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
}

type Manager struct {
	backend  Backend
	accounts AccountGetter
	window   time.Duration
	now      func() time.Time
}

type Option func(*Manager)

func WithWindow(d time.Duration) Option {
	return func(m *Manager) { m.window = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(backend Backend, accounts AccountGetter, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		accounts: accounts,
		window:   DefaultWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Window returns the validity duration of new sessions.
func (m *Manager) Window() time.Duration {
	return m.window
}

// Create starts a session for accountID and returns its token and the
// expiry the backend recorded.
func (m *Manager) Create(ctx context.Context, accountID int64) (string, time.Time, error) {
	issuedAt := m.now().UTC()
	expiresAt := issuedAt.Add(m.window)
	tok, err := m.backend.Issue(ctx, accountID, issuedAt, expiresAt)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create session: %w", err)
	}
	return tok, expiresAt, nil
}

// Validate returns the account a token belongs to. It fails with
// model.ErrExpired once the window has elapsed and with
// model.ErrInvalidSession for unknown tokens or deleted accounts.
func (m *Manager) Validate(ctx context.Context, token string) (*model.Account, error) {
	if token == "" {
		return nil, model.ErrInvalidSession
	}
	claims, err := m.backend.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if now.Sub(claims.IssuedAt) >= m.window || !now.Before(claims.ExpiresAt) {
		return nil, model.ErrExpired
	}

	acct, err := m.accounts.GetAccount(ctx, claims.AccountID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Destroy ends a session where the backend supports revocation.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.backend.Revoke(ctx, token)
}

type expirer interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Cleanup removes expired sessions from backends that hold state. It
// returns the number removed.
func (m *Manager) Cleanup(ctx context.Context) (int64, error) {
	e, ok := m.backend.(expirer)
	if !ok {
		return 0, nil
	}
	return e.DeleteExpired(ctx, m.now())
}
