package stages

import (
	"context"
	"errors"
	"time"

	"github.com/blazemigrate/blazemigrate/internal/obs"
	"github.com/blazemigrate/blazemigrate/internal/pipeline"
	"go.uber.org/zap"
)

// Retryable reports whether an error forwarding a message is worth
// retrying. Destination server restarts are the canonical case.
type Retryable func(err error) bool

// DefaultRetryable treats pipeline.ErrServerRestart as the only retryable
// cause.
func DefaultRetryable(err error) bool {
	return errors.Is(err, pipeline.ErrServerRestart)
}

// RetryStage re-forwards a message when it fails with a retryable error,
// using exponential backoff between attempts. Unlike a naive port of the
// original's process loop — which raised a retry-exhausted exception
// unconditionally once the attempt loop ended, even after a successful
// forward — this stage only returns ErrRetryExhausted once max attempts
// has actually been exceeded without success.
type RetryStage struct {
	pipeline.BaseStage
	log         *zap.Logger
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Retryable   Retryable
}

func NewRetryStage(log *zap.Logger, maxAttempts int, base, max time.Duration, retryable Retryable) *RetryStage {
	if retryable == nil {
		retryable = DefaultRetryable
	}
	s := &RetryStage{log: log, MaxAttempts: maxAttempts, Base: base, Max: max, Retryable: retryable}
	s.BaseStage.Process = s.process
	return s
}

func (s *RetryStage) backoff(attempt int) time.Duration {
	d := s.Base << attempt
	if d > s.Max {
		return s.Max
	}
	return d
}

func (s *RetryStage) process(ctx context.Context, m *pipeline.Message) error {
	var lastErr error

	for attempt := 0; attempt < s.MaxAttempts; attempt++ {
		if attempt == 0 {
			lastErr = m.Forward(ctx)
		} else {
			lastErr = m.Redispatch(ctx)
		}
		if lastErr == nil {
			return nil
		}
		if !s.Retryable(lastErr) {
			return lastErr
		}

		s.log.Warn("retrying message after error",
			obs.String("msg_id", m.MsgID), obs.Int("attempt", attempt+1), obs.Err(lastErr))
		obs.RetriesAttempted.Inc()

		select {
		case <-time.After(s.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return &pipeline.ErrRetryExhausted{Attempts: s.MaxAttempts, Last: lastErr}
}
