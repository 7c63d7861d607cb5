package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyQueue = "gatherly:notifications"

	// Default timeout for blocking operations
	defaultBlockTimeout = 5 * time.Second
)

var ErrQueueEmpty = errors.New("queue is empty")

// Queue is a FIFO of notifications on a Redis list.
type Queue struct {
	client *redis.Client
}

// NewQueue connects to the Redis instance at redisURL.
func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

// Client returns the underlying Redis client so the cache can share it.
func (q *Queue) Client() *redis.Client {
	return q.client
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Enqueue appends notifications to the queue.
func (q *Queue) Enqueue(ctx context.Context, ns ...Notification) error {
	if len(ns) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(ns))
	for _, n := range ns {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal notification: %w", err)
		}
		values = append(values, data)
	}
	if err := q.client.LPush(ctx, keyQueue, values...).Err(); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	return nil
}

// Notify makes Queue a Notifier.
func (q *Queue) Notify(ctx context.Context, ns ...Notification) error {
	return q.Enqueue(ctx, ns...)
}

// Dequeue blocks up to timeout for the oldest notification.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Notification, error) {
	if timeout == 0 {
		timeout = defaultBlockTimeout
	}

	result, err := q.client.BRPop(ctx, timeout, keyQueue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrQueueEmpty
		}
		return nil, fmt.Errorf("failed to dequeue notification: %w", err)
	}

	if len(result) < 2 {
		return nil, ErrQueueEmpty
	}

	var n Notification
	if err := json.Unmarshal([]byte(result[1]), &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	return &n, nil
}

// Length returns the number of notifications waiting.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, keyQueue).Result()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
