package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/keyledger/internal/account"
	"github.com/dukerupert/keyledger/internal/backup"
	"github.com/dukerupert/keyledger/internal/config"
	"github.com/dukerupert/keyledger/internal/database"
	"github.com/dukerupert/keyledger/internal/email"
	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/logging"
	"github.com/dukerupert/keyledger/internal/metrics"
	"github.com/dukerupert/keyledger/internal/password"
	"github.com/dukerupert/keyledger/internal/purchase"
	"github.com/dukerupert/keyledger/internal/server"
	"github.com/dukerupert/keyledger/internal/session"
	"github.com/dukerupert/keyledger/internal/store"
	"github.com/dukerupert/keyledger/internal/token"
	ws "github.com/dukerupert/keyledger/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	hasher, err := password.New(cfg.PasswordAlgorithm, cfg.BcryptCost)
	if err != nil {
		slog.Error("password hasher", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	mailer, stopMailer := newMailer(bgCtx, cfg, m, logger)

	accounts := account.NewService(db, hasher, mailer, account.Config{
		BaseURL:         cfg.BaseURL,
		ProductName:     cfg.ProductName,
		VerificationTTL: cfg.VerificationTTL,
	}, logger)

	backend, err := newSessionBackend(cfg, db)
	if err != nil {
		slog.Error("session backend", "error", err)
		os.Exit(1)
	}
	sessions := session.NewManager(backend, accounts, session.WithWindow(cfg.Session.Window))

	policy, err := ledger.ParsePolicy(cfg.KeyPolicy)
	if err != nil {
		slog.Error("key policy", "error", err)
		os.Exit(1)
	}
	keys := ledger.New(db, token.NewGenerator(nil), policy, logger)
	purchases := purchase.NewCoordinator(db, keys, logger)

	if cfg.Admin.Enabled() {
		admin, created, err := accounts.EnsureAdmin(bgCtx, cfg.Admin.Username, cfg.Admin.Email, cfg.Admin.Password)
		if err != nil {
			slog.Error("seed admin", "error", err)
			os.Exit(1)
		}
		if created {
			slog.Info("admin account created", "account_id", admin.ID, "username", admin.Username)
		}
	}

	backups := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
			Prefix:    cfg.Backup.Prefix,
		},
		Passphrase: cfg.Backup.Passphrase,
		Interval:   cfg.Backup.Interval,
		Retention:  cfg.Backup.Retention,
	}, db, logger)
	backups.OnResult = m.BackupResult
	if backups.Enabled() {
		backups.Start(bgCtx)
		slog.Info("backups enabled", "bucket", cfg.Backup.Bucket, "interval", cfg.Backup.Interval)
	}

	hub := ws.NewHub(logger)
	srv := server.New(db, server.Services{
		Accounts:  accounts,
		Sessions:  sessions,
		Ledger:    keys,
		Purchases: purchases,
		Backups:   backups,
	}, hub, m, server.Config{
		BaseURL:         cfg.BaseURL,
		SecureCookie:    cfg.Session.Secure,
		TrustProxy:      cfg.TrustProxy,
		RateLimit:       cfg.RateLimit,
		RateLimitWindow: cfg.RateLimitWindow,
	}, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := sessions.Cleanup(bgCtx); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("keyledger starting", "addr", httpServer.Addr, "base_url", cfg.BaseURL,
			"session_backend", cfg.Session.Backend, "key_policy", policy)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	stopMailer()
	bgCancel()
	backups.Stop()
}

// newMailer returns the Sender used for verification mail and a function
// that flushes it on shutdown.
func newMailer(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (email.Sender, func()) {
	var base email.Sender = email.LogSender{Logger: logger.With("component", "email")}
	client := email.NewClient(cfg.Email.PostmarkToken, cfg.Email.From)
	if client.Configured() {
		base = client
	} else {
		slog.Warn("postmark not configured, verification emails will be logged")
	}

	policy := email.RetryPolicy{
		MaxRetries: cfg.Email.MaxRetries,
		BaseDelay:  cfg.Email.RetryDelay,
	}

	if !cfg.Email.Async {
		return meteredSender{Sender: email.Retrying{Sender: base, Policy: policy}, m: m}, func() {}
	}

	d := email.NewDispatcher(base, cfg.Email.QueueSize, policy, logger.With("component", "email"))
	d.OnResult = m.EmailResult
	go d.Run(ctx)
	return d, d.Close
}

type meteredSender struct {
	email.Sender
	m *metrics.Metrics
}

func (s meteredSender) Send(ctx context.Context, to, subject, body string) error {
	err := s.Sender.Send(ctx, to, subject, body)
	s.m.EmailResult(err)
	return err
}

func newSessionBackend(cfg *config.Config, db *sql.DB) (session.Backend, error) {
	switch cfg.Session.Backend {
	case config.BackendStore:
		return session.NewStored(store.NewSessionStore(db)), nil
	default:
		return session.NewCapsule([]byte(cfg.Session.Secret))
	}
}
