// Package backup takes encrypted snapshots of the ledger database and keeps
// them in S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/store"
	_ "modernc.org/sqlite"
)

var (
	ErrDisabled   = errors.New("backup not configured")
	ErrInProgress = errors.New("backup already in progress")
)

// objectStore is the part of the S3 client the manager uses.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

type Config struct {
	S3         S3Config
	Passphrase string
	// Interval between scheduled snapshots. Zero disables the schedule but
	// leaves RunNow available.
	Interval  time.Duration
	Retention time.Duration
}

// Enabled reports whether enough is configured to take snapshots.
func (c Config) Enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State      State         `json:"state"`
	LastBackup *model.Backup `json:"last_backup,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type Manager struct {
	cfg     Config
	db      *sql.DB
	backups *store.BackupStore
	client  objectStore
	now     func() time.Time
	logger  *slog.Logger

	// OnResult is called with the outcome of every snapshot attempt.
	OnResult func(err error)

	running sync.Mutex
	mu      sync.RWMutex
	state   State
	lastErr string

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Manager)

// WithClock sets the time source used to name and date snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func withObjectStore(c objectStore) Option {
	return func(m *Manager) { m.client = c }
}

func NewManager(cfg Config, db *sql.DB, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.Retention == 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	m := &Manager{
		cfg:     cfg,
		db:      db,
		backups: store.NewBackupStore(db),
		now:     time.Now,
		logger:  logger.With("component", "backup"),
		state:   StateDisabled,
	}
	if cfg.Enabled() {
		m.client = newS3Client(cfg.S3)
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.client != nil && cfg.Passphrase != "" {
		m.state = StateIdle
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateDisabled
}

// Status returns the manager state and the newest completed snapshot.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.mu.RLock()
	st := Status{State: m.state, Error: m.lastErr}
	m.mu.RUnlock()

	last, err := m.backups.LatestCompleted(ctx)
	if err != nil {
		return st, model.Storage("backup status", err)
	}
	st.LastBackup = last
	return st, nil
}

func (m *Manager) List(ctx context.Context, limit int) ([]model.Backup, error) {
	if limit <= 0 {
		limit = 50
	}
	list, err := m.backups.List(ctx, limit)
	if err != nil {
		return nil, model.Storage("list backups", err)
	}
	if list == nil {
		list = []model.Backup{}
	}
	return list, nil
}

func (m *Manager) setState(s State, msg string) {
	m.mu.Lock()
	m.state = s
	m.lastErr = msg
	m.mu.Unlock()
}

func (m *Manager) objectKey(filename string) string {
	if m.cfg.S3.Prefix == "" {
		return filename
	}
	return m.cfg.S3.Prefix + "/" + filename
}

// RunNow snapshots the database, seals it and uploads it. Only one snapshot
// runs at a time; a concurrent call gets ErrInProgress.
func (m *Manager) RunNow(ctx context.Context) (*model.Backup, error) {
	if !m.Enabled() {
		return nil, ErrDisabled
	}
	if !m.running.TryLock() {
		return nil, ErrInProgress
	}
	defer m.running.Unlock()

	b, err := m.run(ctx)
	if m.OnResult != nil {
		m.OnResult(err)
	}
	if err != nil {
		m.setState(StateError, err.Error())
		m.logger.Error("backup failed", "error", err)
		return nil, err
	}
	m.setState(StateIdle, "")
	m.logger.Info("backup completed", "id", b.ID, "object_key", b.ObjectKey, "size_bytes", b.SizeBytes)
	return b, nil
}

func (m *Manager) run(ctx context.Context) (*model.Backup, error) {
	m.setState(StateRunning, "")

	started := m.now().UTC()
	filename := fmt.Sprintf("keyledger-%s.db.enc", started.Format("2006-01-02T150405.000Z"))
	record, err := m.backups.Create(ctx, filename, m.objectKey(filename), started)
	if err != nil {
		return nil, model.Storage("create backup record", err)
	}

	size, err := m.upload(ctx, record.ObjectKey)
	if err != nil {
		if merr := m.backups.MarkFailed(ctx, record.ID, err.Error()); merr != nil {
			m.logger.Error("mark backup failed", "id", record.ID, "error", merr)
		}
		return nil, err
	}

	if err := m.backups.MarkCompleted(ctx, record.ID, size, m.now()); err != nil {
		return nil, model.Storage("complete backup record", err)
	}
	b, err := m.backups.GetByID(ctx, record.ID)
	if err != nil {
		return nil, model.Storage("get backup", err)
	}
	return b, nil
}

func (m *Manager) upload(ctx context.Context, key string) (int64, error) {
	plain, err := m.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	sealed, err := Seal(plain, m.cfg.Passphrase)
	if err != nil {
		return 0, fmt.Errorf("seal snapshot: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return 0, fmt.Errorf("upload snapshot: %w", err)
	}
	return int64(len(sealed)), nil
}

// snapshot writes a consistent copy of the database with VACUUM INTO and
// returns its bytes.
func (m *Manager) snapshot(ctx context.Context) ([]byte, error) {
	dir, err := os.MkdirTemp("", "keyledger-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return nil, fmt.Errorf("vacuum into: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func (m *Manager) record(ctx context.Context, id int64) (*model.Backup, error) {
	b, err := m.backups.GetByID(ctx, id)
	if err != nil {
		return nil, model.Storage("get backup", err)
	}
	if b == nil || b.Status != model.BackupStatusCompleted {
		return nil, model.ErrNotFound
	}
	return b, nil
}

// Download streams the sealed object for a completed backup.
func (m *Manager) Download(ctx context.Context, id int64) (io.ReadCloser, int64, error) {
	if !m.Enabled() {
		return nil, 0, ErrDisabled
	}
	b, err := m.record(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(b.ObjectKey),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("download snapshot: %w", err)
	}
	return out.Body, b.SizeBytes, nil
}

// Verify downloads a backup, decrypts it and runs SQLite's integrity check
// on the result. It never touches the live database.
func (m *Manager) Verify(ctx context.Context, id int64) error {
	body, _, err := m.Download(ctx, id)
	if err != nil {
		return err
	}
	sealed, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	plain, err := Open(sealed, m.cfg.Passphrase)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "keyledger-verify-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "restore.db")
	if err := os.WriteFile(path, plain, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	var accounts int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&accounts); err != nil {
		return fmt.Errorf("snapshot missing ledger tables: %w", err)
	}
	return nil
}

// Cleanup deletes backups older than the retention period from both the
// table and object storage. It returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if !m.Enabled() {
		return 0, nil
	}
	cutoff := m.now().Add(-m.cfg.Retention)
	keys, err := m.backups.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, model.Storage("delete old backups", err)
	}
	for _, key := range keys {
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete backup object", "object_key", key, "error", err)
		}
	}
	return len(keys), nil
}

// Start runs RunNow and Cleanup every Interval until Stop or ctx is done.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() || m.cfg.Interval <= 0 {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.RunNow(ctx); err != nil {
					continue
				}
				if n, err := m.Cleanup(ctx); err != nil {
					m.logger.Error("backup cleanup", "error", err)
				} else if n > 0 {
					m.logger.Info("pruned old backups", "count", n)
				}
			}
		}
	}()
}

// Stop halts the schedule and waits for an in-flight snapshot.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		<-m.done
	}
}
