package session

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/store"
	"github.com/dukerupert/keyledger/internal/token"
)

// Stored keeps sessions in the sessions table under a random token, so
// Revoke takes effect immediately.
type Stored struct {
	sessions *store.SessionStore
}

func NewStored(sessions *store.SessionStore) *Stored {
	return &Stored{sessions: sessions}
}

func (s *Stored) Issue(ctx context.Context, accountID int64, issuedAt, expiresAt time.Time) (string, error) {
	tok, err := token.GenerateOpaque(token.DefaultLength)
	if err != nil {
		return "", err
	}
	if _, err := s.sessions.Create(ctx, tok, accountID, issuedAt, expiresAt); err != nil {
		return "", model.Storage("issue session", err)
	}
	return tok, nil
}

func (s *Stored) Lookup(ctx context.Context, tok string) (Claims, error) {
	sess, err := s.sessions.GetByToken(ctx, tok)
	if err != nil {
		return Claims{}, model.Storage("lookup session", err)
	}
	if sess == nil {
		return Claims{}, model.ErrInvalidSession
	}
	return Claims{
		ID:        fmt.Sprint(sess.ID),
		AccountID: sess.AccountID,
		IssuedAt:  sess.IssuedAt,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (s *Stored) Revoke(ctx context.Context, tok string) error {
	if err := s.sessions.DeleteByToken(ctx, tok); err != nil {
		return model.Storage("revoke session", err)
	}
	return nil
}

func (s *Stored) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return 0, model.Storage("delete expired sessions", err)
	}
	return n, nil
}
