package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/blazemigrate/blazemigrate/internal/obs"
	"go.uber.org/zap"
)

// State is the lifecycle of a Processor.
type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

// ErrStopped is returned by Enqueue once the processor has left the
// Running state.
var ErrStopped = errors.New("pipeline: processor is stopped")

// Processor runs a bounded pool of goroutines pulling messages off a
// buffered channel and invoking a callback for each — the Go analogue of
// the original's asyncio.Queue + task pool, and structurally the same
// shape as the teacher's per-worker-slot goroutine loop.
type Processor struct {
	callback        func(ctx context.Context, m *Message) error
	continueOnError bool
	log             *zap.Logger

	queue chan *Message
	state atomic.Int32

	wg   sync.WaitGroup
	once sync.Once
}

// NewProcessor builds a Processor with the given worker count and bounded
// queue length.
func NewProcessor(workerCount, queueLength int, continueOnError bool, log *zap.Logger, callback func(ctx context.Context, m *Message) error) *Processor {
	p := &Processor{
		callback:        callback,
		continueOnError: continueOnError,
		log:             log,
		queue:           make(chan *Message, queueLength),
	}
	p.state.Store(int32(StateRunning))

	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

func (p *Processor) State() State { return State(p.state.Load()) }

func (p *Processor) runWorker() {
	defer p.wg.Done()
	obs.ProcessorWorkersActive.Inc()
	defer obs.ProcessorWorkersActive.Dec()

	for m := range p.queue {
		if stop := p.handle(m); stop {
			return
		}
	}
}

// handle runs the callback for one message, returning true if this worker
// should exit rather than pull another message off the queue — the case
// when continueOnError is false and the callback failed, per the pipeline's
// fail-fast mode: the worker exits and pool size decreases rather than the
// processor merely flipping to Stopping while every worker keeps looping.
func (p *Processor) handle(m *Message) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("processor callback panicked", obs.String("msg_id", m.MsgID))
		}
	}()
	if err := p.callback(context.Background(), m); err != nil {
		p.log.Warn("processor callback failed", obs.String("msg_id", m.MsgID), obs.Err(err))
		if !p.continueOnError {
			p.beginStop()
			return true
		}
	}
	return false
}

func (p *Processor) beginStop() {
	p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
}

// Enqueue queues a message for processing, blocking if the queue is full
// (this is the pipeline's backpressure mechanism). Returns ErrStopped if
// the processor has left the Running state.
func (p *Processor) Enqueue(ctx context.Context, m *Message) error {
	if p.State() != StateRunning {
		return ErrStopped
	}
	select {
	case p.queue <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting new work, drains the queue without running it,
// waits for in-flight callbacks to finish, and marks the processor Stopped.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.once.Do(func() {
		p.state.Store(int32(StateStopping))
		p.drain()
		close(p.queue)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.state.Store(int32(StateStopped))
		return ctx.Err()
	}

	p.state.Store(int32(StateStopped))
	return nil
}

func (p *Processor) drain() {
	for {
		select {
		case <-p.queue:
		default:
			return
		}
	}
}
