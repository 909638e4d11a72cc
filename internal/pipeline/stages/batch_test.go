package stages

import "testing"

func TestBatcherRowLimitFlushesAtBoundary(t *testing.T) {
	b := NewBatcher(RowBatch, 2, 0)

	flushed, indices := b.Add("lineage-1", []byte("a"))
	if len(flushed) != 0 {
		t.Fatalf("expected no flush after first row, got %v", flushed)
	}

	flushed, indices = b.Add("lineage-1", []byte("b"))
	if len(flushed) != 1 || string(flushed[0]) != "ab" || indices[0] != 0 {
		t.Fatalf("expected batch to flush at row limit, got flushed=%v indices=%v", flushed, indices)
	}

	flushed, _ = b.Add("lineage-1", []byte("c"))
	if len(flushed) != 0 {
		t.Fatalf("expected new batch to start empty after flush, got %v", flushed)
	}

	data, index, ok := b.Flush("lineage-1")
	if !ok || string(data) != "c" || index != 1 {
		t.Fatalf("expected trailing partial batch c at index 1, got data=%q index=%d ok=%v", data, index, ok)
	}

	if _, _, ok := b.Flush("lineage-1"); ok {
		t.Fatalf("expected lineage state to be forgotten after Flush")
	}
}

func TestBatcherByteLimitCarriesOverflow(t *testing.T) {
	b := NewBatcher(ByteBatch, 0, 3)

	flushed, indices := b.Add("lineage-2", []byte("ab"))
	if len(flushed) != 0 {
		t.Fatalf("expected no flush yet, got %v", flushed)
	}

	// "ab" + "cd" would be 4 bytes, over the 3-byte budget, so the
	// in-progress batch flushes first and "cd" starts the next one.
	flushed, indices = b.Add("lineage-2", []byte("cd"))
	if len(flushed) != 1 || string(flushed[0]) != "ab" || indices[0] != 0 {
		t.Fatalf("expected overflowing row to flush prior batch, got flushed=%v indices=%v", flushed, indices)
	}

	data, index, ok := b.Flush("lineage-2")
	if !ok || string(data) != "cd" || index != 1 {
		t.Fatalf("expected carried-over row in next batch, got data=%q index=%d ok=%v", data, index, ok)
	}
}

func TestBatcherIndependentLineages(t *testing.T) {
	b := NewBatcher(RowBatch, 10, 0)

	b.Add("x", []byte("1"))
	b.Add("y", []byte("2"))

	dataX, _, okX := b.Flush("x")
	dataY, _, okY := b.Flush("y")

	if !okX || string(dataX) != "1" {
		t.Fatalf("expected lineage x to carry its own row, got %q", dataX)
	}
	if !okY || string(dataY) != "2" {
		t.Fatalf("expected lineage y to carry its own row, got %q", dataY)
	}
}
