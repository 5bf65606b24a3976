package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/model"
)

type BackupStore struct {
	db database.DBTX
}

func NewBackupStore(db database.DBTX) *BackupStore {
	return &BackupStore{db: db}
}

const backupCols = `id, filename, object_key, size_bytes, status, error_message, started_at, completed_at`

func scanBackup(sc scanner) (*model.Backup, error) {
	var b model.Backup
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := sc.Scan(&b.ID, &b.Filename, &b.ObjectKey, &b.SizeBytes, &b.Status, &errMsg, &b.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.ErrorMessage = errMsg.String
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}

// Create records a backup in the uploading state.
func (s *BackupStore) Create(ctx context.Context, filename, objectKey string, startedAt time.Time) (*model.Backup, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO backups (filename, object_key, status, started_at) VALUES (?, ?, ?, ?)`,
		filename, objectKey, model.BackupStatusUploading, startedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert backup: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *BackupStore) GetByID(ctx context.Context, id int64) (*model.Backup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+backupCols+` FROM backups WHERE id = ?`, id)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

// List returns the most recent backups first.
func (s *BackupStore) List(ctx context.Context, limit int) ([]model.Backup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+backupCols+` FROM backups ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// LatestCompleted returns the newest completed backup, or nil.
func (s *BackupStore) LatestCompleted(ctx context.Context) (*model.Backup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+backupCols+` FROM backups WHERE status = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		model.BackupStatusCompleted)
	b, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest backup: %w", err)
	}
	return b, nil
}

func (s *BackupStore) MarkCompleted(ctx context.Context, id, sizeBytes int64, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, size_bytes = ?, completed_at = ?, error_message = NULL WHERE id = ?`,
		model.BackupStatusCompleted, sizeBytes, completedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark backup completed: %w", err)
	}
	return nil
}

func (s *BackupStore) MarkFailed(ctx context.Context, id int64, msg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE backups SET status = ?, error_message = ? WHERE id = ?`,
		model.BackupStatusFailed, msg, id)
	if err != nil {
		return fmt.Errorf("mark backup failed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes rows started before cutoff and returns their
// object keys so the caller can delete the stored objects.
func (s *BackupStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT object_key FROM backups WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("query old backups: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan object key: %w", err)
		}
		keys = append(keys, k)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE started_at < ?`, cutoff.UTC()); err != nil {
		return nil, fmt.Errorf("delete old backups: %w", err)
	}
	return keys, nil
}
