// Package websocket streams ledger events (registrations, purchases, key
// status changes) to connected administrators.
package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds published by the HTTP handlers.
const (
	AccountRegistered = "account_registered"
	AccountVerified   = "account_verified"
	AccountDeleted    = "account_deleted"
	PurchaseCompleted = "purchase_completed"
	KeysIssued        = "keys_issued"
	KeyRedeemed       = "key_redeemed"
	KeyStatusChanged  = "key_status_changed"
)

// Event is one ledger change as sent to clients.
type Event struct {
	Type      string         `json:"type"`
	AccountID int64          `json:"account_id,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub maintains the set of connected clients and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	dropped atomic.Int64
	now     func() time.Time
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		now:     time.Now,
		logger:  logger.With("component", "events"),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Publish stamps an event and sends it to every client. Slow clients whose
// buffer is full miss the event rather than blocking the publisher.
func (h *Hub) Publish(eventType string, accountID int64, data map[string]any) {
	ev := Event{Type: eventType, AccountID: accountID, At: h.now().UTC(), Data: data}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("marshal event", "type", eventType, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were skipped because a client lagged.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
