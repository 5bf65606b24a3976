package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
)

type LicenseKeyStore struct {
	db database.DBTX
}

func NewLicenseKeyStore(db database.DBTX) *LicenseKeyStore {
	return &LicenseKeyStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *LicenseKeyStore) WithTx(tx *sql.Tx) *LicenseKeyStore {
	return &LicenseKeyStore{db: tx}
}

func scanLicenseKey(sc scanner) (*model.LicenseKey, error) {
	var lk model.LicenseKey
	var redeemedAt sql.NullTime
	err := sc.Scan(&lk.ID, &lk.AccountID, &lk.Key, &lk.IsUsed, &lk.IssuedAt, &redeemedAt)
	if err != nil {
		return nil, err
	}
	if redeemedAt.Valid {
		lk.RedeemedAt = &redeemedAt.Time
	}
	return &lk, nil
}

const licenseKeyCols = `id, account_id, key, is_used, issued_at, redeemed_at`

// Create inserts a not-yet-used key. A key string that already exists is
// reported as ErrDuplicateKey so the caller can generate another.
func (s *LicenseKeyStore) Create(ctx context.Context, accountID int64, key string, issuedAt time.Time) (*model.LicenseKey, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO license_keys (account_id, key, issued_at) VALUES (?, ?, ?)`,
		accountID, key, issuedAt.UTC(),
	)
	if isUniqueViolation(err, "license_keys.key") {
		return nil, ErrDuplicateKey
	}
	if err != nil {
		return nil, fmt.Errorf("insert license key: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *LicenseKeyStore) GetByID(ctx context.Context, id int64) (*model.LicenseKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseKeyCols+` FROM license_keys WHERE id = ?`, id)
	lk, err := scanLicenseKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license key: %w", err)
	}
	return lk, nil
}

func (s *LicenseKeyStore) GetByKey(ctx context.Context, key string) (*model.LicenseKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseKeyCols+` FROM license_keys WHERE key = ?`, key)
	lk, err := scanLicenseKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get license key by key: %w", err)
	}
	return lk, nil
}

// GetUnused returns the owner and issue time of key if it exists and has not
// been used, or nil otherwise.
func (s *LicenseKeyStore) GetUnused(ctx context.Context, key string) (*model.KeyInfo, error) {
	var info model.KeyInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT lk.key, a.username, lk.issued_at
		 FROM license_keys lk JOIN accounts a ON a.id = lk.account_id
		 WHERE lk.key = ? AND lk.is_used = 0`,
		key,
	).Scan(&info.Key, &info.OwnerUsername, &info.IssuedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get unused license key: %w", err)
	}
	return &info, nil
}

// MarkUsed flips an unused key to used. It reports false when the key does
// not exist or was already used, so concurrent redemptions succeed once.
func (s *LicenseKeyStore) MarkUsed(ctx context.Context, key string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE license_keys SET is_used = 1, redeemed_at = ? WHERE key = ? AND is_used = 0`,
		at.UTC(), key,
	)
	if err != nil {
		return false, fmt.Errorf("mark license key used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// SetUsed sets the used flag unconditionally. Reinstating a key clears its
// redemption time. It reports whether the key exists.
func (s *LicenseKeyStore) SetUsed(ctx context.Context, key string, used bool, at time.Time) (bool, error) {
	var result sql.Result
	var err error
	if used {
		result, err = s.db.ExecContext(ctx,
			`UPDATE license_keys SET is_used = 1, redeemed_at = COALESCE(redeemed_at, ?) WHERE key = ?`,
			at.UTC(), key,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE license_keys SET is_used = 0, redeemed_at = NULL WHERE key = ?`,
			key,
		)
	}
	if err != nil {
		return false, fmt.Errorf("set license key used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *LicenseKeyStore) ListByAccountID(ctx context.Context, accountID int64) ([]model.LicenseKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+licenseKeyCols+` FROM license_keys WHERE account_id = ? ORDER BY issued_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list license keys: %w", err)
	}
	return collectLicenseKeys(rows)
}

func (s *LicenseKeyStore) ListByPurchaseID(ctx context.Context, purchaseID int64) ([]model.LicenseKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT lk.id, lk.account_id, lk.key, lk.is_used, lk.issued_at, lk.redeemed_at
		 FROM license_keys lk JOIN purchase_keys pk ON pk.license_key_id = lk.id
		 WHERE pk.purchase_id = ? ORDER BY lk.id`,
		purchaseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchase license keys: %w", err)
	}
	return collectLicenseKeys(rows)
}

func collectLicenseKeys(rows *sql.Rows) ([]model.LicenseKey, error) {
	defer rows.Close()
	var keys []model.LicenseKey
	for rows.Next() {
		lk, err := scanLicenseKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan license key: %w", err)
		}
		keys = append(keys, *lk)
	}
	return keys, rows.Err()
}

func (s *LicenseKeyStore) DeleteByAccountID(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM license_keys WHERE account_id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete license keys by account: %w", err)
	}
	return nil
}
