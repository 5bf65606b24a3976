package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/keyledger/internal/auth"
	"github.com/dukerupert/keyledger/internal/metrics"
	"github.com/dukerupert/keyledger/internal/model"
	"github.com/dukerupert/keyledger/internal/purchase"
	"github.com/dukerupert/keyledger/internal/websocket"
)

type PurchaseHandler struct {
	purchases *purchase.Coordinator
	events    Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewPurchaseHandler(purchases *purchase.Coordinator, events Publisher, m *metrics.Metrics, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{purchases: purchases, events: publisherOrNop(events), metrics: m, logger: logger}
}

func (h *PurchaseHandler) Plans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plans": purchase.Plans()})
}

type purchaseRequest struct {
	Plan string `json:"plan" validate:"required"`
}

// Create buys a plan for the signed-in account. Only verified accounts may
// purchase.
func (h *PurchaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if !p.EmailVerified {
		respondError(w, r, h.logger, model.ErrEmailNotVerified)
		return
	}

	var req purchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	receipt, err := h.purchases.Purchase(r.Context(), p.AccountID, req.Plan)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	h.metrics.Purchases.WithLabelValues(receipt.Purchase.Plan).Inc()
	h.metrics.KeysIssued.Add(float64(len(receipt.Keys)))
	h.events.Publish(websocket.PurchaseCompleted, p.AccountID, map[string]any{
		"purchase_id": receipt.Purchase.ID,
		"plan":        receipt.Purchase.Plan,
		"keys":        len(receipt.Keys),
	})
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *PurchaseHandler) Keys(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid purchase id")
		return
	}
	keys, err := h.purchases.PurchaseKeys(r.Context(), auth.AccountID(r.Context()), id)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if keys == nil {
		keys = []model.LicenseKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": keys})
}
