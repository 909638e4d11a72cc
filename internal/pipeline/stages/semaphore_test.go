package stages

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

type blockingStage struct {
	release chan struct{}
	active  int32
	maxSeen int32
}

func (s *blockingStage) Receive(ctx context.Context, m *pipeline.Message) error {
	cur := atomic.AddInt32(&s.active, 1)
	for {
		old := atomic.LoadInt32(&s.maxSeen)
		if cur <= old || atomic.CompareAndSwapInt32(&s.maxSeen, old, cur) {
			break
		}
	}
	<-s.release
	atomic.AddInt32(&s.active, -1)
	return nil
}

func TestSemaphoreStageBoundsConcurrency(t *testing.T) {
	blocking := &blockingStage{release: make(chan struct{})}
	sys := pipeline.NewSystem(4, 8, true, zap.NewNop(), NewSemaphoreStage(2), blocking)
	defer sys.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sys.Enqueue(context.Background(), pipeline.NewMessage())
		}()
	}

	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&blocking.maxSeen); got > 2 {
		t.Fatalf("expected at most 2 messages past the semaphore at once, saw %d", got)
	}

	close(blocking.release)
	wg.Wait()
}
