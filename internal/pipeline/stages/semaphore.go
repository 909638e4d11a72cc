package stages

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

// SemaphoreStage bounds concurrent access to the remainder of the pipeline,
// guarding a downstream resource (a destination connection pool, for
// instance) with a fixed number of permits.
type SemaphoreStage struct {
	pipeline.BaseStage
	sem *semaphore.Weighted
}

func NewSemaphoreStage(limit int64) *SemaphoreStage {
	s := &SemaphoreStage{sem: semaphore.NewWeighted(limit)}
	s.BaseStage.Process = s.process
	return s
}

func (s *SemaphoreStage) process(ctx context.Context, m *pipeline.Message) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return m.Forward(ctx)
}
