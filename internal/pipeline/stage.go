package pipeline

import (
	"context"
	"errors"
)

// Stage is a single step in a pipeline. Receive decides whether the message
// is relevant to this stage (by inspecting its packets); if so, Process
// runs, otherwise the message is forwarded unchanged to the next stage.
type Stage interface {
	Receive(ctx context.Context, m *Message) error
}

// BeforeHook and AfterHook let a stage hook into the forward sequence
// without owning Process itself — mirroring the original's before()/after()
// lifecycle methods used by the database and control stages.
type BeforeHook interface {
	Before(ctx context.Context, m *Message) error
}

type AfterHook interface {
	// After is called once the rest of the pipeline has run for this
	// message. skipped is true if a downstream stage returned
	// ErrSkipImport; success is true only if no error occurred at all.
	After(ctx context.Context, m *Message, skipped, success bool) error
}

// BaseStage implements the common receive/process/forward contract shared
// by all concrete stages: it type-matches packets, invokes before/after
// hooks around message.Forward, and turns ErrSkipImport into the skipped
// flag rather than propagating it as a hard failure.
type BaseStage struct {
	// Matches reports whether this stage cares about the given message. A
	// nil Matches means "always".
	Matches func(m *Message) bool
	// Process performs the stage's actual work before forwarding. A nil
	// Process forwards immediately (useful for before/after-hook-only
	// stages like the database stages).
	Process func(ctx context.Context, m *Message) error

	Before BeforeHook
	After  AfterHook
}

func (s *BaseStage) Receive(ctx context.Context, m *Message) error {
	if s.Matches != nil && !s.Matches(m) {
		return m.Forward(ctx)
	}

	if s.Before != nil {
		if err := s.Before.Before(ctx, m); err != nil {
			return err
		}
	}

	var procErr error
	if s.Process != nil {
		procErr = s.Process(ctx, m)
	} else {
		procErr = m.Forward(ctx)
	}

	skipped := errors.Is(procErr, ErrSkipImport)
	success := procErr == nil

	if s.After != nil {
		if err := s.After.After(ctx, m, skipped, success); err != nil {
			return err
		}
	}

	if skipped {
		return nil
	}
	return procErr
}

// Forward advances the message to the next stage in the system's stage
// list, or to the terminal warning sink if none remain.
func (m *Message) Forward(ctx context.Context) error {
	m.stageIdx++
	if m.system == nil {
		return errors.New("pipeline: message not attached to a running system")
	}
	return m.system.dispatch(ctx, m)
}

// Redispatch re-runs the message against its current stage position
// without advancing it — used by RetryStage to re-attempt the downstream
// stages a failed Forward already advanced into.
func (m *Message) Redispatch(ctx context.Context) error {
	if m.system == nil {
		return errors.New("pipeline: message not attached to a running system")
	}
	return m.system.dispatch(ctx, m)
}
