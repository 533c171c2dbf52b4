package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"solana-signal-lab/internal/domain"
)

// Queue is a FIFO list of JSON items shared between processes.
type Queue struct {
	store *Store
	key   string
}

// NewQueue creates a queue named name on store.
func NewQueue(store *Store, name string) *Queue {
	return &Queue{store: store, key: store.Key("queue", name)}
}

// Enqueue appends v to the tail.
func (q *Queue) Enqueue(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue encode: %w", err)
	}
	ctx, cancel := q.store.withTimeout(ctx)
	defer cancel()
	if err := q.store.client.RPush(ctx, q.key, data).Err(); err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

// Dequeue pops the head into dst. It returns false when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, dst any) (bool, error) {
	ctx, cancel := q.store.withTimeout(ctx)
	defer cancel()

	data, err := q.store.client.LPop(ctx, q.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("dequeue", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("queue decode: %w: %v", domain.ErrParse, err)
	}
	return true, nil
}

// Len returns the number of queued items.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	ctx, cancel := q.store.withTimeout(ctx)
	defer cancel()
	n, err := q.store.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, unavailable("queue length", err)
	}
	return n, nil
}
