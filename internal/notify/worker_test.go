package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// chanSource is an in-process Source.
type chanSource struct {
	ch chan Notification
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan Notification, 16)}
}

func (s *chanSource) Enqueue(ctx context.Context, ns ...Notification) error {
	for _, n := range ns {
		s.ch <- n
	}
	return nil
}

func (s *chanSource) Dequeue(ctx context.Context, timeout time.Duration) (*Notification, error) {
	select {
	case n := <-s.ch:
		return &n, nil
	case <-time.After(timeout):
		return nil, ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flakyDeliverer fails the first failures sends.
type flakyDeliverer struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []uuid.UUID
}

func (d *flakyDeliverer) Send(ctx context.Context, recipient uuid.UUID, v any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls <= d.failures {
		return errors.New("connection reset")
	}
	d.got = append(d.got, recipient)
	return nil
}

func (d *flakyDeliverer) snapshot() (int, []uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls, append([]uuid.UUID(nil), d.got...)
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) RecordNotification(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[result]++
}

func (m *countingMetrics) get(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[result]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestPool(src Source, d Deliverer, m Metrics) *WorkerPool {
	return NewWorkerPool(src, d, &WorkerPoolConfig{
		WorkerCount: 2,
		MaxRetries:  3,
		JobTimeout:  time.Second,
		BaseBackoff: time.Millisecond,
		PollTimeout: 20 * time.Millisecond,
		Metrics:     m,
	})
}

func TestWorkerPool_StartStop(t *testing.T) {
	pool := newTestPool(newChanSource(), &flakyDeliverer{}, nil)

	if pool.IsRunning() {
		t.Error("Pool should not be running before Start()")
	}

	pool.Start()
	pool.Start()

	if !pool.IsRunning() {
		t.Error("Pool should be running after Start()")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Errorf("Failed to stop pool: %v", err)
	}
	if pool.IsRunning() {
		t.Error("Pool should not be running after Stop()")
	}
}

func TestWorkerPool_Delivers(t *testing.T) {
	src := newChanSource()
	d := &flakyDeliverer{}
	m := &countingMetrics{}
	pool := newTestPool(src, d, m)
	pool.Start()
	defer pool.Stop(context.Background())

	recipient := uuid.New()
	src.Enqueue(context.Background(), New(KindSignupCreated, recipient, uuid.New(), "Chess night", uuid.New()))

	waitFor(t, func() bool { return m.get(ResultDelivered) == 1 })
	_, got := d.snapshot()
	if len(got) != 1 || got[0] != recipient {
		t.Errorf("delivered to %v, want %v", got, recipient)
	}
}

func TestWorkerPool_RetriesThenDelivers(t *testing.T) {
	src := newChanSource()
	d := &flakyDeliverer{failures: 2}
	m := &countingMetrics{}
	pool := newTestPool(src, d, m)
	pool.Start()
	defer pool.Stop(context.Background())

	src.Enqueue(context.Background(), New(KindEventUpdated, uuid.New(), uuid.New(), "Chess night", uuid.New()))

	waitFor(t, func() bool { return m.get(ResultDelivered) == 1 })
	if got := m.get(ResultRetried); got != 2 {
		t.Errorf("retried = %d, want 2", got)
	}
}

func TestWorkerPool_DropsAfterMaxRetries(t *testing.T) {
	src := newChanSource()
	d := &flakyDeliverer{failures: 100}
	m := &countingMetrics{}
	pool := newTestPool(src, d, m)
	pool.Start()
	defer pool.Stop(context.Background())

	src.Enqueue(context.Background(), New(KindEventCancelled, uuid.New(), uuid.New(), "Chess night", uuid.New()))

	waitFor(t, func() bool { return m.get(ResultDropped) == 1 })
	if calls, _ := d.snapshot(); calls != 3 {
		t.Errorf("delivery attempts = %d, want 3", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, maxBackoff},
	}

	for _, tt := range tests {
		if got := calculateBackoff(time.Second, tt.retryCount); got != tt.expected {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryCount, got, tt.expected)
		}
	}
}
