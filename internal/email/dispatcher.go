package email

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrQueueFull is returned by Dispatcher.Send when the queue has no room.
var ErrQueueFull = errors.New("email queue full")

// ErrDispatcherClosed is returned by Dispatcher.Send once Close has begun.
var ErrDispatcherClosed = errors.New("email dispatcher closed")

// RetryPolicy bounds how often a failed send is retried.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

func sendWithRetry(ctx context.Context, s Sender, p RetryPolicy, m message) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if err := s.Send(ctx, m.to, m.subject, m.body); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Retrying sends synchronously, retrying failures per its policy.
type Retrying struct {
	Sender Sender
	Policy RetryPolicy
}

func (r Retrying) Send(ctx context.Context, to, subject, body string) error {
	return sendWithRetry(ctx, r.Sender, r.Policy, message{to: to, subject: subject, body: body})
}

type message struct {
	to      string
	subject string
	body    string
}

// Dispatcher sends mail from a bounded queue on a background goroutine.
// Send only enqueues; delivery errors are logged and reported to OnResult.
type Dispatcher struct {
	sender   Sender
	policy   RetryPolicy
	queue    chan message
	logger   *slog.Logger
	OnResult func(err error)

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sender Sender, queueSize int, policy RetryPolicy, logger *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		sender: sender,
		policy: policy,
		queue:  make(chan message, queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Send enqueues a message without blocking. It is safe to call
// concurrently with Close.
func (d *Dispatcher) Send(ctx context.Context, to, subject, body string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- message{to: to, subject: subject, body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run drains the queue until Close is called and the queue is empty, or ctx
// is cancelled. It blocks.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case m, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, m)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, m message) {
	err := sendWithRetry(ctx, d.sender, d.policy, m)
	if err != nil {
		d.logger.Error("email delivery failed", "to", m.to, "subject", m.subject, "error", err)
	} else {
		d.logger.Debug("email delivered", "to", m.to, "subject", m.subject)
	}
	if d.OnResult != nil {
		d.OnResult(err)
	}
}

// Close stops accepting messages and waits for Run to finish the queue.
// Later calls to Send return ErrDispatcherClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
