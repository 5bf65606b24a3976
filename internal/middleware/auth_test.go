package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/keyledger/internal/auth"
	"github.com/dukerupert/keyledger/internal/model"
)

type fakeSessions map[string]struct {
	acct *model.Account
	err  error
}

func (f fakeSessions) Validate(_ context.Context, token string) (*model.Account, error) {
	s, ok := f[token]
	if !ok {
		return nil, model.ErrInvalidSession
	}
	return s.acct, s.err
}

func testSessions() fakeSessions {
	return fakeSessions{
		"user":    {acct: &model.Account{ID: 1, Username: "alice", EmailVerified: true}},
		"admin":   {acct: &model.Account{ID: 2, Username: "root", IsAdmin: true}},
		"expired": {err: model.ErrExpired},
	}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body["error"]
}

func TestRequireAuthNoToken(t *testing.T) {
	handler := RequireAuth(testSessions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := errorBody(t, rec); got != "authentication required" {
		t.Errorf("error = %q", got)
	}
}

func TestRequireAuthInvalidAndExpired(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"bogus", "invalid session"},
		{"expired", "session expired"},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			handler := RequireAuth(testSessions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("should not reach handler")
			}))

			req := httptest.NewRequest("GET", "/", nil)
			req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.token})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if got := errorBody(t, rec); got != tt.want {
				t.Errorf("error = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireAuthCookieAndBearer(t *testing.T) {
	var got auth.Principal
	handler := RequireAuth(testSessions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "user"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie: status = %d, want 200", rec.Code)
	}
	if got.AccountID != 1 || got.Username != "alice" || !got.EmailVerified {
		t.Errorf("principal = %+v", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: status = %d, want 200", rec.Code)
	}
	if got.AccountID != 2 || !got.IsAdmin {
		t.Errorf("principal = %+v", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	reached := false
	handler := RequireAuth(testSessions())(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer user")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: status = %d, want 403", rec.Code)
	}
	if reached {
		t.Error("non-admin reached handler")
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", rec.Code)
	}
}

func TestSessionTokenPrefersCookie(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "from-cookie"})
	req.Header.Set("Authorization", "Bearer from-header")

	if got := SessionToken(req); got != "from-cookie" {
		t.Errorf("token = %q, want from-cookie", got)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := SessionToken(req); got != "" {
		t.Errorf("token = %q, want empty for Basic auth", got)
	}
}
