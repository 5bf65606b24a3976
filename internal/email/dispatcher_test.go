package email

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []string
}

func (f *fakeSender) Send(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, to)
	return nil
}

func fastPolicy(retries uint64) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRetryingRecovers(t *testing.T) {
	fs := &fakeSender{failures: 2}
	r := Retrying{Sender: fs, Policy: fastPolicy(3)}

	if err := r.Send(context.Background(), "alice@example.com", "s", "b"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if fs.calls != 3 {
		t.Errorf("calls = %d, want 3", fs.calls)
	}
}

func TestRetryingGivesUp(t *testing.T) {
	fs := &fakeSender{failures: 10}
	r := Retrying{Sender: fs, Policy: fastPolicy(2)}

	if err := r.Send(context.Background(), "alice@example.com", "s", "b"); err == nil {
		t.Fatal("expected error after retries are exhausted")
	}
	if fs.calls != 3 {
		t.Errorf("calls = %d, want 3 (1 try + 2 retries)", fs.calls)
	}
}

func TestDispatcherDelivers(t *testing.T) {
	fs := &fakeSender{failures: 1}
	d := NewDispatcher(fs, 4, fastPolicy(2), slog.Default())

	var mu sync.Mutex
	var results []error
	d.OnResult = func(err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}

	go d.Run(context.Background())

	if err := d.Send(context.Background(), "alice@example.com", "s", "b"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := d.Send(context.Background(), "bob@example.com", "s", "b"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if len(fs.sent) != 2 {
		t.Fatalf("sent = %v, want 2 messages", fs.sent)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, err := range results {
		if err != nil {
			t.Errorf("result %d = %v, want nil", i, err)
		}
	}
}

func TestDispatcherQueueFull(t *testing.T) {
	d := NewDispatcher(&fakeSender{}, 1, fastPolicy(0), slog.Default())

	if err := d.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := d.Send(context.Background(), "b@example.com", "s", "b"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}

	go d.Run(context.Background())
	d.Close()
}

func TestDispatcherSendAfterClose(t *testing.T) {
	fs := &fakeSender{}
	d := NewDispatcher(fs, 4, fastPolicy(0), slog.Default())
	go d.Run(context.Background())

	if err := d.Send(context.Background(), "a@example.com", "s", "b"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	d.Close()

	if err := d.Send(context.Background(), "late@example.com", "s", "b"); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("err = %v, want ErrDispatcherClosed", err)
	}
	// A second Close must not panic on the already closed queue.
	d.Close()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.sent) != 1 {
		t.Errorf("sent = %v, want only the message queued before Close", fs.sent)
	}
}

func TestDispatcherConcurrentSendAndClose(t *testing.T) {
	d := NewDispatcher(&fakeSender{}, 8, fastPolicy(0), slog.Default())
	go d.Run(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := d.Send(context.Background(), "a@example.com", "s", "b")
				if err != nil && !errors.Is(err, ErrQueueFull) && !errors.Is(err, ErrDispatcherClosed) {
					t.Errorf("unexpected send error: %v", err)
					return
				}
			}
		}()
	}
	d.Close()
	wg.Wait()
}
