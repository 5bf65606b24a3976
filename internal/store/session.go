package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
)

type SessionStore struct {
	db database.DBTX
}

func NewSessionStore(db database.DBTX) *SessionStore {
	return &SessionStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *SessionStore) WithTx(tx *sql.Tx) *SessionStore {
	return &SessionStore{db: tx}
}

func scanSession(sc scanner) (*model.Session, error) {
	var s model.Session
	err := sc.Scan(&s.ID, &s.Token, &s.AccountID, &s.IssuedAt, &s.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const sessionCols = `id, token, account_id, issued_at, expires_at`

func (s *SessionStore) Create(ctx context.Context, token string, accountID int64, issuedAt, expiresAt time.Time) (*model.Session, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, account_id, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, accountID, issuedAt.UTC(), expiresAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetByToken returns the session for token, expired or not, or nil if it
// does not exist. Expiry is the caller's decision.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE token = ?`, token)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

func (s *SessionStore) DeleteByToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *SessionStore) DeleteByAccountID(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete sessions by account: %w", err)
	}
	return nil
}
