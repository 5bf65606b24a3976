// Package license checks a license key against a keyledger server. It is
// meant to be embedded in licensed products and backs the keycheck CLI.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

const validatePath = "/api/keys/validate"

// Config holds license validation configuration.
type Config struct {
	Key           string
	ServerURL     string
	CheckInterval time.Duration
	// GracePeriod keeps a previously valid key usable while the server is
	// unreachable.
	GracePeriod time.Duration
	// Retries bounds retries of network errors and 5xx responses.
	Retries    uint64
	RetryDelay time.Duration
}

// Status is the result of the last check.
type Status struct {
	Valid       bool       `json:"valid"`
	Owner       string     `json:"owner,omitempty"`
	IssuedAt    *time.Time `json:"issued_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	LastChecked time.Time  `json:"last_checked"`
	Offline     bool       `json:"offline"`
	Warning     string     `json:"warning,omitempty"`
}

type validateRequest struct {
	Key string `json:"key"`
}

type validateResponse struct {
	Valid    bool       `json:"valid"`
	Owner    string     `json:"owner,omitempty"`
	IssuedAt *time.Time `json:"issued_at,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// Client validates a license key and caches the answer.
type Client struct {
	mu         sync.RWMutex
	cfg        Config
	status     Status
	httpClient *http.Client
	now        func() time.Time
	stopCh     chan struct{}
	stopped    chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 24 * time.Hour
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 7 * 24 * time.Hour
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		now:     time.Now,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Validate checks the key now and returns the updated status. A server
// that cannot be reached leaves the last answer in place, marked offline.
func (c *Client) Validate(ctx context.Context) (Status, error) {
	c.mu.RLock()
	key := c.cfg.Key
	c.mu.RUnlock()

	if key == "" {
		c.mu.Lock()
		c.status = Status{Valid: false, Reason: "no_key", LastChecked: c.now()}
		st := c.status
		c.mu.Unlock()
		return st, nil
	}

	vr, err := c.check(ctx, key)
	if err != nil {
		c.mu.Lock()
		c.status.Offline = true
		c.status.Warning = "unable to reach license server"
		st := c.status
		c.mu.Unlock()
		return st, err
	}

	c.mu.Lock()
	c.status = Status{
		Valid:       vr.Valid,
		Owner:       vr.Owner,
		IssuedAt:    vr.IssuedAt,
		Reason:      vr.Reason,
		LastChecked: c.now(),
	}
	st := c.status
	c.mu.Unlock()
	return st, nil
}

func (c *Client) check(ctx context.Context, key string) (*validateResponse, error) {
	body, err := json.Marshal(validateRequest{Key: key})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	backoff := retry.WithMaxRetries(c.cfg.Retries, retry.NewExponential(c.cfg.RetryDelay))
	var vr validateResponse
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+validatePath, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("validate request: %w", err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("validate: status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("validate: status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &vr, nil
}

// Licensed reports whether the product may run: the last check succeeded,
// and, if the server has since become unreachable, the grace period has
// not run out.
func (c *Client) Licensed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.status.Valid || c.status.LastChecked.IsZero() {
		return false
	}
	return c.now().Sub(c.status.LastChecked) < c.cfg.GracePeriod
}

// Status returns the current cached license status.
func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetKey replaces the key and validates it immediately.
func (c *Client) SetKey(ctx context.Context, key string) (Status, error) {
	c.mu.Lock()
	c.cfg.Key = key
	c.mu.Unlock()
	return c.Validate(ctx)
}

// Start validates once and then every CheckInterval until Stop or ctx is
// done.
func (c *Client) Start(ctx context.Context) {
	c.Validate(ctx)

	go func() {
		defer close(c.stopped)
		ticker := time.NewTicker(c.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Validate(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background validation goroutine.
func (c *Client) Stop() {
	close(c.stopCh)
	<-c.stopped
}
