package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func TestQueueTriggerEnqueueAndTables(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	trig := NewQueueTrigger(zap.NewNop(), mr.Addr(), "migrate:tables")
	defer trig.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := trig.Tables(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := trig.Enqueue(context.Background(), "orders"); err != nil {
		t.Fatal(err)
	}

	select {
	case table := <-ch:
		if table != "orders" {
			t.Fatalf("expected orders, got %q", table)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued table")
	}
}

func TestQueueTriggerStopsOnContextCancel(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer mr.Close()

	trig := NewQueueTrigger(zap.NewNop(), mr.Addr(), "migrate:tables")
	defer trig.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := trig.Tables(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}
