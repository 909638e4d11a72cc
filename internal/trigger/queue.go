package trigger

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// QueueTrigger pulls table names to migrate off a Redis list, letting an
// operator (or another service) enqueue on-demand migration requests
// rather than running a fixed batch.
type QueueTrigger struct {
	client *redis.Client
	log    *zap.Logger
	Key    string
}

func NewQueueTrigger(log *zap.Logger, addr, key string) *QueueTrigger {
	return &QueueTrigger{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		log:    log,
		Key:    key,
	}
}

// Enqueue pushes a table name onto the queue for a future Tables call to
// pick up.
func (t *QueueTrigger) Enqueue(ctx context.Context, table string) error {
	return t.client.LPush(ctx, t.Key, table).Err()
}

// Tables yields table names as they're popped off the queue, blocking
// between pops, until ctx is cancelled.
func (t *QueueTrigger) Tables(ctx context.Context) (<-chan string, error) {
	ch := make(chan string)

	go func() {
		defer close(ch)
		for {
			result, err := t.client.BRPop(ctx, 0, t.Key).Result()
			if err != nil {
				if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, redis.Nil) {
					return
				}
				t.log.Warn("queue trigger pop failed", zap.Error(err))
				return
			}
			if len(result) < 2 {
				continue
			}
			select {
			case ch <- result[1]:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (t *QueueTrigger) Close() error {
	return t.client.Close()
}
