package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/keyledger/internal/account"
	"github.com/dukerupert/keyledger/internal/backup"
	"github.com/dukerupert/keyledger/internal/handler"
	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/metrics"
	"github.com/dukerupert/keyledger/internal/middleware"
	"github.com/dukerupert/keyledger/internal/purchase"
	"github.com/dukerupert/keyledger/internal/session"
	ws "github.com/dukerupert/keyledger/internal/websocket"
)

type Config struct {
	BaseURL      string
	SecureCookie bool
	// TrustProxy makes rate limiting and request logs use the client address
	// from proxy headers instead of the TCP peer.
	TrustProxy      bool
	RateLimit       int
	RateLimitWindow time.Duration
}

// Services are the domain components the API exposes.
type Services struct {
	Accounts  *account.Service
	Sessions  *session.Manager
	Ledger    *ledger.Ledger
	Purchases *purchase.Coordinator
	// Backups is optional; without it the backup routes are not mounted.
	Backups *backup.Manager
}

type Server struct {
	db          *sql.DB
	cfg         Config
	sessions    *session.Manager
	hub         *ws.Hub
	metrics     *metrics.Metrics
	authH       *handler.AuthHandler
	accountH    *handler.AccountHandler
	purchaseH   *handler.PurchaseHandler
	licenseH    *handler.LicenseHandler
	adminH      *handler.AdminHandler
	backupH     *handler.BackupHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, svc Services, hub *ws.Hub, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	s := &Server{
		db:          db,
		cfg:         cfg,
		sessions:    svc.Sessions,
		hub:         hub,
		metrics:     m,
		authH:       handler.NewAuthHandler(svc.Accounts, svc.Sessions, hub, m, cfg.SecureCookie, logger.With("component", "auth")),
		accountH:    handler.NewAccountHandler(svc.Accounts, svc.Ledger, svc.Purchases, logger.With("component", "account")),
		purchaseH:   handler.NewPurchaseHandler(svc.Purchases, hub, m, logger.With("component", "purchase")),
		licenseH:    handler.NewLicenseHandler(svc.Ledger, hub, m, logger.With("component", "license")),
		adminH:      handler.NewAdminHandler(svc.Accounts, svc.Ledger, hub, m, logger.With("component", "admin")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
	if svc.Backups != nil {
		s.backupH = handler.NewBackupHandler(svc.Backups, logger.With("component", "backup"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) clientIP(r *http.Request) string {
	if s.cfg.TrustProxy {
		return middleware.RealIP(r)
	}
	return middleware.RemoteIP(r)
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Public routes
	mux.Handle("POST /api/register", s.rateLimited("register", s.authH.Register))
	mux.Handle("POST /api/login", s.rateLimited("login", s.authH.Login))
	mux.HandleFunc("POST /api/logout", s.authH.Logout)
	mux.HandleFunc("GET /verify", s.authH.Verify)
	mux.HandleFunc("GET /api/plans", s.purchaseH.Plans)
	mux.Handle("POST /api/keys/validate", s.rateLimited("validate", s.licenseH.Validate))
	mux.Handle("POST /api/keys/redeem", s.rateLimited("redeem", s.licenseH.Redeem))

	// Signed-in routes
	authMw := middleware.RequireAuth(s.sessions)
	mux.Handle("POST /api/verification/resend", authMw(s.rateLimited("resend", s.authH.ResendVerification)))
	mux.Handle("GET /api/account", authMw(http.HandlerFunc(s.accountH.Me)))
	mux.Handle("POST /api/purchases", authMw(http.HandlerFunc(s.purchaseH.Create)))
	mux.Handle("GET /api/purchases/{id}/keys", authMw(http.HandlerFunc(s.purchaseH.Keys)))

	// Admin routes
	admin := func(h http.HandlerFunc) http.Handler {
		return authMw(middleware.RequireAdmin(h))
	}
	mux.Handle("GET /api/admin/accounts", admin(s.adminH.ListAccounts))
	mux.Handle("DELETE /api/admin/accounts/{id}", admin(s.adminH.DeleteAccount))
	mux.Handle("POST /api/admin/accounts/{id}/keys", admin(s.adminH.IssueKeys))
	mux.Handle("PUT /api/admin/keys/{key}/status", admin(s.adminH.SetKeyStatus))
	mux.Handle("GET /api/admin/events", admin(ws.HandleEvents(s.hub, originPatterns(s.cfg.BaseURL))))
	if s.backupH != nil {
		mux.Handle("GET /api/admin/backups", admin(s.backupH.List))
		mux.Handle("POST /api/admin/backups", admin(s.backupH.Create))
		mux.Handle("GET /api/admin/backups/{id}", admin(s.backupH.Download))
		mux.Handle("POST /api/admin/backups/{id}/verify", admin(s.backupH.Verify))
	}

	logged := middleware.RequestLogger(s.logger.With("component", "http"), s.clientIP)(mux)
	return s.metrics.Instrument(logged)
}

func (s *Server) rateLimited(scope string, h http.HandlerFunc) http.Handler {
	return middleware.RateLimit(s.rateLimiter, middleware.Limit{
		Scope:    scope,
		Requests: s.cfg.RateLimit,
		Window:   s.cfg.RateLimitWindow,
		Key:      s.clientIP,
		OnReject: func(*http.Request) { s.metrics.RateLimited.Inc() },
	})(h)
}

// originPatterns allows browser WebSocket connections from the service's
// own host only.
func originPatterns(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.ErrorContext(ctx, "health check: database unreachable", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":            status,
		"event_subscribers": s.hub.ClientCount(),
	})
}
