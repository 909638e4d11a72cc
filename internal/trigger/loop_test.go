package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLoopTriggerFiresOnSchedule(t *testing.T) {
	inner := NewTableListTrigger([]string{"orders"}, nil)
	loop := NewLoopTrigger(zap.NewNop(), "@every 50ms", inner)

	var fired int32
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx, func(ctx context.Context, tables <-chan string) error {
		atomic.AddInt32(&fired, 1)
		for range tables {
		}
		return nil
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Run to return context.DeadlineExceeded, got %v", err)
	}
	if atomic.LoadInt32(&fired) == 0 {
		t.Fatalf("expected onFire to be called at least once")
	}
}
