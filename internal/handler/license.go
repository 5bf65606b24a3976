package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/keyledger/internal/ledger"
	"github.com/dukerupert/keyledger/internal/metrics"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/websocket"
)

type LicenseHandler struct {
	ledger  *ledger.Ledger
	events  Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewLicenseHandler(l *ledger.Ledger, events Publisher, m *metrics.Metrics, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{ledger: l, events: publisherOrNop(events), metrics: m, logger: logger}
}

type keyRequest struct {
	Key string `json:"key" validate:"required,max=64"`
}

// KeyResponse is the body of the validate and redeem endpoints.
type KeyResponse struct {
	Valid    bool       `json:"valid"`
	Owner    string     `json:"owner,omitempty"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

const reasonInvalid = "invalid_or_used"

// Validate reports whether a key is valid. Unknown and used keys are a
// normal answer, not an error.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "validate", h.ledger.ValidateKey)
}

// Redeem consumes a key; it succeeds once per key.
func (h *LicenseHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	h.check(w, r, "redeem", h.ledger.Redeem)
}

func (h *LicenseHandler) check(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (*model.KeyInfo, error)) {
	var req keyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info, err := fn(r.Context(), strings.TrimSpace(req.Key))
	if errors.Is(err, model.ErrInvalidKey) {
		h.metrics.KeyValidations.WithLabelValues(op + "_invalid").Inc()
		writeJSON(w, http.StatusOK, KeyResponse{Valid: false, Reason: reasonInvalid})
		return
	}
	if err != nil {
		h.metrics.KeyValidations.WithLabelValues(op + "_error").Inc()
		respondError(w, r, h.logger, err)
		return
	}

	h.metrics.KeyValidations.WithLabelValues(op + "_ok").Inc()
	if op == "redeem" || h.ledger.Policy() == ledger.SingleUse {
		h.events.Publish(websocket.KeyRedeemed, 0, map[string]any{"owner": info.OwnerUsername})
	}
	issued := info.IssuedAt
	writeJSON(w, http.StatusOK, KeyResponse{Valid: true, Owner: info.OwnerUsername, IssuedAt: &issued})
}
