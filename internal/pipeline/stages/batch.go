package stages

import (
	"context"
	"sync"

	"github.com/blazemigrate/blazemigrate/internal/obs"
	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

// BatchKind selects which limit a Batcher enforces.
type BatchKind int

const (
	// RowBatch caps a batch at a fixed row count.
	RowBatch BatchKind = iota
	// ByteBatch caps a batch at a byte budget measured against the
	// row's RowFormat-encoded size.
	ByteBatch
)

// batchState is the single per-lineage generator state shared by the row-
// and byte-limited batcher variants — the Go reconciliation of the
// original's two independently-evolved batcher implementations
// (file-oriented pipeline/stages/batch.py vs stream-oriented
// importers/batchers/*.py). Variance between row and byte batching is
// expressed purely through the limitReached and wouldOverflow predicates,
// which switch on BatchKind.
type batchState struct {
	index    int64
	buf      []byte
	rowCount int
}

// Batcher accumulates rows (or pre-encoded lines) for a single message
// lineage into size-bounded batches, carrying any row that overflows a
// batch's budget into the next one.
type Batcher struct {
	kind      BatchKind
	rowLimit  int
	byteLimit int64

	mu     sync.Mutex
	states map[string]*batchState
}

// NewBatcher builds a Batcher. For RowBatch, rowLimit bounds batch size;
// for ByteBatch, byteLimit bounds the encoded-size budget.
func NewBatcher(kind BatchKind, rowLimit int, byteLimit int64) *Batcher {
	return &Batcher{
		kind:      kind,
		rowLimit:  rowLimit,
		byteLimit: byteLimit,
		states:    make(map[string]*batchState),
	}
}

func (b *Batcher) stateFor(lineageID string) *batchState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[lineageID]
	if !ok {
		st = &batchState{}
		b.states[lineageID] = st
	}
	return st
}

func (b *Batcher) deleteState(lineageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, lineageID)
}

func (b *Batcher) limitReached(st *batchState) bool {
	switch b.kind {
	case RowBatch:
		return st.rowCount >= b.rowLimit
	default:
		return int64(len(st.buf)) >= b.byteLimit
	}
}

// Add appends one already-encoded line to the lineage's in-progress batch.
// If adding it would overflow the limit, the current batch is flushed
// first (strictly increasing index) and the line carried into the next one.
func (b *Batcher) Add(lineageID string, line []byte) (flushed [][]byte, indices []int64) {
	st := b.stateFor(lineageID)

	if len(st.buf) > 0 && b.wouldOverflow(st, line) {
		flushed = append(flushed, st.buf)
		indices = append(indices, st.index)
		st.buf = nil
		st.rowCount = 0
		st.index++
	}

	st.buf = append(st.buf, line...)
	st.rowCount++

	if b.limitReached(st) {
		flushed = append(flushed, st.buf)
		indices = append(indices, st.index)
		st.buf = nil
		st.rowCount = 0
		st.index++
	}

	return flushed, indices
}

func (b *Batcher) wouldOverflow(st *batchState, line []byte) bool {
	switch b.kind {
	case RowBatch:
		return st.rowCount >= b.rowLimit
	default:
		return int64(len(st.buf)+len(line)) > b.byteLimit
	}
}

// Flush emits any remaining partial batch for the lineage and forgets its
// state (called once DataCompletePacket arrives).
func (b *Batcher) Flush(lineageID string) (data []byte, index int64, ok bool) {
	defer b.deleteState(lineageID)

	st := b.stateFor(lineageID)
	if len(st.buf) == 0 {
		return nil, 0, false
	}
	return st.buf, st.index, true
}

// BatchStage drives a Batcher from incoming DataLoadPacket rows, emitting
// DataLoadPacket batches downstream once a limit is reached or the
// lineage's DataCompletePacket arrives.
type BatchStage struct {
	pipeline.BaseStage
	batcher *Batcher
}

// NewBatchStage builds a BatchStage wired to forward batches as
// DataLoadPacket values.
func NewBatchStage(batcher *Batcher) *BatchStage {
	s := &BatchStage{batcher: batcher}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, hasLoad := pipeline.GetPacket[pipeline.DataLoadPacket](m)
		_, hasComplete := pipeline.GetPacket[pipeline.DataCompletePacket](m)
		return hasLoad || hasComplete
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *BatchStage) process(ctx context.Context, m *pipeline.Message) error {
	for _, load := range pipeline.PopPackets[pipeline.DataLoadPacket](m) {
		flushed, indices := s.batcher.Add(m.InitialID, load.Data)
		for i, data := range flushed {
			m.AddPacket(pipeline.DataLoadPacket{Data: data, Index: indices[i]})
			obs.BatchesEmitted.Inc()
		}
	}

	if _, ok := pipeline.GetPacket[pipeline.DataCompletePacket](m); ok {
		if data, index, has := s.batcher.Flush(m.InitialID); has {
			m.AddPacket(pipeline.DataLoadPacket{Data: data, Index: index})
			obs.BatchesEmitted.Inc()
		}
	}

	return m.Forward(ctx)
}
