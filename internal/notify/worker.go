package notify

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gatherly/backend/internal/logger"
)

const (
	DefaultWorkerCount = 3
	DefaultMaxRetries  = 3
	DefaultJobTimeout  = 10 * time.Second

	defaultBaseBackoff = 1 * time.Second
	maxBackoff         = 1 * time.Minute
)

// Source is what the pool consumes. *Queue satisfies it.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*Notification, error)
	Enqueue(ctx context.Context, ns ...Notification) error
}

// WorkerPool delivers queued notifications with a fixed number of workers.
type WorkerPool struct {
	source      Source
	deliverer   Deliverer
	workerCount int
	maxRetries  int
	jobTimeout  time.Duration
	baseBackoff time.Duration
	pollTimeout time.Duration
	metrics     Metrics
	log         *logger.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.RWMutex
	running bool
}

// WorkerPoolConfig holds configuration for the worker pool
type WorkerPoolConfig struct {
	WorkerCount int
	MaxRetries  int
	JobTimeout  time.Duration
	BaseBackoff time.Duration
	PollTimeout time.Duration
	Metrics     Metrics
	Logger      *logger.Logger
}

func NewWorkerPool(source Source, deliverer Deliverer, config *WorkerPoolConfig) *WorkerPool {
	if config == nil {
		config = &WorkerPoolConfig{}
	}

	wp := &WorkerPool{
		source:      source,
		deliverer:   deliverer,
		workerCount: config.WorkerCount,
		maxRetries:  config.MaxRetries,
		jobTimeout:  config.JobTimeout,
		baseBackoff: config.BaseBackoff,
		pollTimeout: config.PollTimeout,
		metrics:     config.Metrics,
		log:         config.Logger,
	}
	if wp.workerCount <= 0 {
		wp.workerCount = DefaultWorkerCount
	}
	if wp.maxRetries <= 0 {
		wp.maxRetries = DefaultMaxRetries
	}
	if wp.jobTimeout <= 0 {
		wp.jobTimeout = DefaultJobTimeout
	}
	if wp.baseBackoff <= 0 {
		wp.baseBackoff = defaultBaseBackoff
	}
	if wp.pollTimeout <= 0 {
		wp.pollTimeout = defaultBlockTimeout
	}
	if wp.metrics == nil {
		wp.metrics = nopMetrics{}
	}
	if wp.log == nil {
		wp.log = logger.NewNop()
	}
	wp.log = wp.log.WithComponent("notify")
	return wp
}

// Start launches the workers. Calling it twice is a no-op.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	wp.running = true
	wp.cancel = cancel

	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	wp.log.Info(ctx, "worker pool started", map[string]interface{}{"workers": wp.workerCount})
}

// Stop cancels the workers and waits for in-flight deliveries, bounded by ctx.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return nil
	}
	wp.running = false
	wp.cancel()
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.log.Info(ctx, "worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		wp.log.Warn(ctx, "worker pool shutdown timed out")
		return ctx.Err()
	}
}

func (wp *WorkerPool) IsRunning() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.running
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for ctx.Err() == nil {
		wp.processNext(ctx, id)
	}
}

func (wp *WorkerPool) processNext(ctx context.Context, workerID int) {
	n, err := wp.source.Dequeue(ctx, wp.pollTimeout)
	if err != nil {
		if errors.Is(err, ErrQueueEmpty) || ctx.Err() != nil {
			return
		}
		wp.log.Error(ctx, "failed to dequeue notification", err, map[string]interface{}{"worker": workerID})
		// avoid spinning on a broken connection
		sleep(ctx, wp.baseBackoff)
		return
	}

	wp.deliver(ctx, workerID, n)
}

func (wp *WorkerPool) deliver(ctx context.Context, workerID int, n *Notification) {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), wp.jobTimeout)
	defer cancel()

	err := wp.deliverer.Send(jobCtx, n.RecipientID, n)
	if err == nil {
		wp.metrics.RecordNotification(ResultDelivered)
		return
	}

	fields := map[string]interface{}{
		"worker":          workerID,
		"notification_id": n.ID.String(),
		"kind":            string(n.Kind),
		"attempt":         n.RetryCount + 1,
	}

	if n.RetryCount+1 >= wp.maxRetries {
		wp.metrics.RecordNotification(ResultDropped)
		wp.log.Error(ctx, "notification exceeded max retries", err, fields)
		return
	}

	backoff := calculateBackoff(wp.baseBackoff, n.RetryCount)
	wp.metrics.RecordNotification(ResultRetried)
	wp.log.Warn(ctx, "notification delivery failed, retrying", fields)

	sleep(ctx, backoff)

	retry := *n
	retry.RetryCount++
	if err := wp.source.Enqueue(context.WithoutCancel(ctx), retry); err != nil {
		wp.log.Error(ctx, "failed to requeue notification", err, fields)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// calculateBackoff doubles base per retry, capped at maxBackoff.
func calculateBackoff(base time.Duration, retryCount int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(retryCount))) * base
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
