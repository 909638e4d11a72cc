package stages

import (
	"errors"
	"testing"
	"time"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

func TestDefaultRetryableMatchesServerRestart(t *testing.T) {
	if !DefaultRetryable(pipeline.ErrServerRestart) {
		t.Fatalf("expected ErrServerRestart to be retryable")
	}
	if DefaultRetryable(errors.New("some other failure")) {
		t.Fatalf("expected unrelated errors to not be retryable")
	}
}

func TestRetryStageBackoffCapsAtMax(t *testing.T) {
	s := NewRetryStage(nil, 5, 100*time.Millisecond, 300*time.Millisecond, nil)

	if got := s.backoff(0); got != 100*time.Millisecond {
		t.Fatalf("expected base backoff on first attempt, got %v", got)
	}
	if got := s.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("expected doubled backoff on second attempt, got %v", got)
	}
	if got := s.backoff(2); got != 300*time.Millisecond {
		t.Fatalf("expected backoff capped at max, got %v", got)
	}
}
