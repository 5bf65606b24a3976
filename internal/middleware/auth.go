package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/keyledger/internal/auth"
	"github.com/dukerupert/keyledger/internal/model"
)

const SessionCookieName = "keyledger_session"

// SessionValidator resolves a session token to its account.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*model.Account, error)
}

// SessionToken returns the session token from the session cookie or, failing
// that, an "Authorization: Bearer" header.
func SessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	h := r.Header.Get("Authorization")
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	return ""
}

// RequireAuth validates the session and populates the request Principal.
func RequireAuth(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := SessionToken(r)
			if tok == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			acct, err := sessions.Validate(r.Context(), tok)
			switch {
			case errors.Is(err, model.ErrExpired):
				writeError(w, http.StatusUnauthorized, "session expired")
				return
			case errors.Is(err, model.ErrInvalidSession):
				writeError(w, http.StatusUnauthorized, "invalid session")
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := auth.WithPrincipal(r.Context(), auth.Principal{
				AccountID:     acct.ID,
				Username:      acct.Username,
				IsAdmin:       acct.IsAdmin,
				EmailVerified: acct.EmailVerified,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin checks that the authenticated account is an administrator.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsAdmin(r.Context()) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
