package pipeline

import (
	"context"

	"github.com/blazemigrate/blazemigrate/internal/obs"
	"go.uber.org/zap"
)

// warningStage is appended to every System's stage list; any message that
// reaches it without being consumed by an earlier stage is logged and
// counted, never silently dropped.
type warningStage struct {
	log *zap.Logger
}

func (w *warningStage) Receive(ctx context.Context, m *Message) error {
	w.log.Warn("message reached the end of the pipeline without being consumed", obs.String("msg_id", m.MsgID))
	obs.WarningSinkTotal.Inc()
	if m.handle != nil {
		m.handle.Complete()
	}
	return nil
}

// System wires a fixed, ordered list of stages to a bounded Processor.
// Enqueue hands a message to the Processor; each worker goroutine drives
// the message through the stage list via dispatch, which tracks the
// message's current position (stage_idx).
type System struct {
	stages    []Stage
	processor *Processor
}

// NewSystem builds a System from the given ordered stages, plus a terminal
// warning sink, backed by a Processor with the given concurrency settings.
func NewSystem(workerCount, queueLength int, continueOnError bool, log *zap.Logger, stages ...Stage) *System {
	sys := &System{
		stages: append(append([]Stage{}, stages...), &warningStage{log: log}),
	}
	sys.processor = NewProcessor(workerCount, queueLength, continueOnError, log, sys.process)
	return sys
}

func (s *System) process(ctx context.Context, m *Message) error {
	m.stageIdx = -1
	m.system = s
	return m.Forward(ctx)
}

func (s *System) dispatch(ctx context.Context, m *Message) error {
	if m.stageIdx < 0 || m.stageIdx >= len(s.stages) {
		return nil
	}
	return s.stages[m.stageIdx].Receive(ctx, m)
}

// Enqueue queues a message for processing by the System.
func (s *System) Enqueue(ctx context.Context, m *Message) error {
	return s.processor.Enqueue(ctx, m)
}

// Shutdown drains pending work and waits for in-flight messages to finish.
func (s *System) Shutdown(ctx context.Context) error {
	return s.processor.Shutdown(ctx)
}

// State returns the underlying Processor's lifecycle state.
func (s *System) State() State { return s.processor.State() }
