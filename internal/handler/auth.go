package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/keyledger/internal/account"
	"github.com/dukerupert/keyledger/internal/auth"
	"github.com/dukerupert/keyledger/internal/metrics"
	"github.com/dukerupert/keyledger/internal/middleware"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/session"
	"github.com/dukerupert/keyledger/internal/websocket"
)

type AuthHandler struct {
	accounts     *account.Service
	sessions     *session.Manager
	events       Publisher
	metrics      *metrics.Metrics
	secureCookie bool
	logger       *slog.Logger
}

func NewAuthHandler(
	accounts *account.Service,
	sessions *session.Manager,
	events Publisher,
	m *metrics.Metrics,
	secureCookie bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		sessions:     sessions,
		events:       publisherOrNop(events),
		metrics:      m,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerResponse struct {
	Account *model.Account `json:"account"`
	Warning string         `json:"warning,omitempty"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acct, err := h.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if acct != nil {
		h.events.Publish(websocket.AccountRegistered, acct.ID, map[string]any{"username": acct.Username})
	}
	switch {
	case err == nil:
		h.metrics.Registrations.WithLabelValues("ok").Inc()
		writeJSON(w, http.StatusCreated, registerResponse{Account: acct})
	case errors.Is(err, model.ErrDispatchFailure) && acct != nil:
		h.metrics.Registrations.WithLabelValues("email_failed").Inc()
		writeJSON(w, http.StatusAccepted, registerResponse{
			Account: acct,
			Warning: "account created but the verification email could not be sent",
		})
	default:
		h.metrics.Registrations.WithLabelValues("error").Inc()
		respondError(w, r, h.logger, err)
	}
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   *model.Account `json:"account"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acct, err := h.accounts.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		h.metrics.Logins.WithLabelValues("rejected").Inc()
		respondError(w, r, h.logger, err)
		return
	}

	tok, expiresAt, err := h.sessions.Create(r.Context(), acct.ID)
	if err != nil {
		h.metrics.Logins.WithLabelValues("error").Inc()
		respondError(w, r, h.logger, err)
		return
	}
	h.metrics.Logins.WithLabelValues("ok").Inc()

	window := h.sessions.Window()
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(window.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.InfoContext(r.Context(), "login", "account_id", acct.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     tok,
		ExpiresAt: expiresAt,
		Account:   acct,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if tok := middleware.SessionToken(r); tok != "" {
		if err := h.sessions.Destroy(r.Context(), tok); err != nil {
			h.logger.ErrorContext(r.Context(), "destroy session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Verify consumes the link from the verification email.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	addr, tok := q.Get("email"), q.Get("token")
	if addr == "" || tok == "" {
		writeError(w, http.StatusBadRequest, "email and token are required")
		return
	}

	acct, err := h.accounts.VerifyEmail(r.Context(), addr, tok)
	if err != nil {
		h.metrics.Verifications.WithLabelValues("rejected").Inc()
		respondError(w, r, h.logger, err)
		return
	}
	h.metrics.Verifications.WithLabelValues("ok").Inc()
	h.events.Publish(websocket.AccountVerified, acct.ID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"verified": true, "account": acct})
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	err := h.accounts.ResendVerification(r.Context(), auth.AccountID(r.Context()))
	if err != nil {
		if errors.Is(err, model.ErrDispatchFailure) {
			writeError(w, http.StatusBadGateway, "verification email could not be sent")
			return
		}
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
