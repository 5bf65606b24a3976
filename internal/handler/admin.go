package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/keyledger/internal/account"
	"github.com/dukerupert/keyledger/internal/auth"
	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/metrics"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/websocket"
)

// AdminHandler serves the administrator API. Routes are mounted behind
// RequireAuth and RequireAdmin.
type AdminHandler struct {
	accounts *account.Service
	ledger   *ledger.Ledger
	events   Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAdminHandler(accounts *account.Service, l *ledger.Ledger, events Publisher, m *metrics.Metrics, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, ledger: l, events: publisherOrNop(events), metrics: m, logger: logger}
}

func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.ListAccounts(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *AdminHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	actorID := auth.AccountID(r.Context())
	if err := h.accounts.DeleteAccount(r.Context(), actorID, id); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.events.Publish(websocket.AccountDeleted, id, map[string]any{"actor_id": actorID})
	w.WriteHeader(http.StatusNoContent)
}

type issueKeysRequest struct {
	Count int `json:"count" validate:"gte=1,lte=100"`
}

func (h *AdminHandler) IssueKeys(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	var req issueKeysRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	keys, err := h.ledger.IssueKeys(r.Context(), id, req.Count)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.metrics.KeysIssued.Add(float64(len(keys)))
	h.events.Publish(websocket.KeysIssued, id, map[string]any{"count": len(keys)})
	writeJSON(w, http.StatusCreated, map[string]any{"keys": keys})
}

type keyStatusRequest struct {
	Used *bool `json:"used" validate:"required"`
}

// SetKeyStatus revokes ("used": true) or reinstates a key.
func (h *AdminHandler) SetKeyStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	var req keyStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.ledger.SetUsed(r.Context(), key, *req.Used); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.events.Publish(websocket.KeyStatusChanged, 0, map[string]any{"key": key, "used": *req.Used})
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "used": *req.Used})
}
