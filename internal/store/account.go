package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
)

type AccountStore struct {
	db database.DBTX
}

func NewAccountStore(db database.DBTX) *AccountStore {
	return &AccountStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *AccountStore) WithTx(tx *sql.Tx) *AccountStore {
	return &AccountStore{db: tx}
}

func scanAccount(sc scanner) (*model.Account, error) {
	var a model.Account
	var token sql.NullString
	var sentAt sql.NullTime
	err := sc.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.EmailVerified,
		&token, &sentAt, &a.IsAdmin, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if token.Valid {
		a.VerificationToken = &token.String
	}
	if sentAt.Valid {
		a.VerificationSentAt = &sentAt.Time
	}
	return &a, nil
}

const accountCols = `id, username, email, password_hash, email_verified, verification_token, verification_sent_at, is_admin, created_at`

// NewAccount holds the columns written at registration.
type NewAccount struct {
	Username           string
	Email              string
	PasswordHash       string
	VerificationToken  *string
	VerificationSentAt *time.Time
	EmailVerified      bool
	IsAdmin            bool
}

// Create inserts an account. Uniqueness violations are reported as
// model.ErrDuplicateUsername or model.ErrDuplicateEmail.
func (s *AccountStore) Create(ctx context.Context, na NewAccount) (*model.Account, error) {
	var token sql.NullString
	if na.VerificationToken != nil {
		token = sql.NullString{String: *na.VerificationToken, Valid: true}
	}
	var sentAt sql.NullTime
	if na.VerificationSentAt != nil {
		sentAt = sql.NullTime{Time: na.VerificationSentAt.UTC(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, email, password_hash, email_verified, verification_token, verification_sent_at, is_admin)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		na.Username, na.Email, na.PasswordHash, na.EmailVerified, token, sentAt, na.IsAdmin,
	)
	switch {
	case isUniqueViolation(err, "accounts.username"):
		return nil, fmt.Errorf("insert account: %w", model.ErrDuplicateUsername)
	case isUniqueViolation(err, "accounts.email"):
		return nil, fmt.Errorf("insert account: %w", model.ErrDuplicateEmail)
	case err != nil:
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *AccountStore) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE username = ?`, username)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by username: %w", err)
	}
	return a, nil
}

// FindByIdentifier returns every account whose username or email equals
// identifier. At most two rows can match: one by username, one by email.
func (s *AccountStore) FindByIdentifier(ctx context.Context, identifier string) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE username = ? OR email = ? ORDER BY id`,
		identifier, identifier,
	)
	if err != nil {
		return nil, fmt.Errorf("find account by identifier: %w", err)
	}
	return collectAccounts(rows)
}

func (s *AccountStore) List(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return collectAccounts(rows)
}

func collectAccounts(rows *sql.Rows) ([]model.Account, error) {
	defer rows.Close()
	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// MarkVerified sets email_verified and clears the pending token, but only if
// the stored token still equals token. It reports whether a row changed.
func (s *AccountStore) MarkVerified(ctx context.Context, id int64, token string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET email_verified = 1, verification_token = NULL, verification_sent_at = NULL
		 WHERE id = ? AND verification_token = ?`,
		id, token,
	)
	if err != nil {
		return false, fmt.Errorf("mark email verified: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetVerificationToken replaces the pending token of an unverified account.
func (s *AccountStore) SetVerificationToken(ctx context.Context, id int64, token string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET verification_token = ?, verification_sent_at = ? WHERE id = ? AND email_verified = 0`,
		token, sentAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

// Delete removes the account row only; dependent rows must already be gone.
func (s *AccountStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
