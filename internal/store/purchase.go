package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
)

type PurchaseStore struct {
	db database.DBTX
}

func NewPurchaseStore(db database.DBTX) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *PurchaseStore) WithTx(tx *sql.Tx) *PurchaseStore {
	return &PurchaseStore{db: tx}
}

func scanPurchase(sc scanner) (*model.Purchase, error) {
	var p model.Purchase
	err := sc.Scan(&p.ID, &p.AccountID, &p.Plan, &p.AmountCents, &p.Currency, &p.PaidAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const purchaseCols = `id, account_id, plan, amount_cents, currency, paid_at`

func (s *PurchaseStore) Create(ctx context.Context, accountID int64, plan string, amountCents int64, currency string, paidAt time.Time) (*model.Purchase, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO purchases (account_id, plan, amount_cents, currency, paid_at) VALUES (?, ?, ?, ?, ?)`,
		accountID, plan, amountCents, currency, paidAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert purchase: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// LinkKey records that licenseKeyID was issued by purchaseID.
func (s *PurchaseStore) LinkKey(ctx context.Context, purchaseID, licenseKeyID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO purchase_keys (purchase_id, license_key_id) VALUES (?, ?)`,
		purchaseID, licenseKeyID,
	)
	if err != nil {
		return fmt.Errorf("link purchase key: %w", err)
	}
	return nil
}

func (s *PurchaseStore) GetByID(ctx context.Context, id int64) (*model.Purchase, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseCols+` FROM purchases WHERE id = ?`, id)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

func (s *PurchaseStore) ListByAccountID(ctx context.Context, accountID int64) ([]model.Purchase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseCols+` FROM purchases WHERE account_id = ? ORDER BY paid_at DESC, id DESC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		purchases = append(purchases, *p)
	}
	return purchases, rows.Err()
}

// DeleteByAccountID removes the account's purchases and their key links.
func (s *PurchaseStore) DeleteByAccountID(ctx context.Context, accountID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM purchase_keys WHERE purchase_id IN (SELECT id FROM purchases WHERE account_id = ?)
		 OR license_key_id IN (SELECT id FROM license_keys WHERE account_id = ?)`,
		accountID, accountID,
	); err != nil {
		return fmt.Errorf("delete purchase keys by account: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM purchases WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete purchases by account: %w", err)
	}
	return nil
}
