package stages

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

func TestEncodeRow(t *testing.T) {
	fmtSpec := pipeline.RowFormat{FieldTerminator: "|", FieldWrapper: "\"", LineTerminator: "\n"}

	row := []any{
		nil,
		"hello",
		int64(42),
		3.5,
		true,
		time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC),
	}

	got := EncodeRow(row, fmtSpec)
	want := `|"hello"|42|3.5|true|2026-07-29` + "\n"
	if got != want {
		t.Fatalf("EncodeRow mismatch:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestEncodeColumnDefaultsToFmtSprint(t *testing.T) {
	fmtSpec := pipeline.RowFormat{FieldTerminator: "|", FieldWrapper: "'"}
	got := encodeColumn(int32(7), fmtSpec)
	if got != "7" {
		t.Fatalf("expected fmt.Sprint fallback for int32, got %q", got)
	}
}

type sinkStage struct {
	pipeline.BaseStage
	loads    int
	complete int
}

func (s *sinkStage) process(ctx context.Context, m *pipeline.Message) error {
	if _, ok := pipeline.GetPacket[pipeline.DataLoadPacket](m); ok {
		s.loads++
	}
	if _, ok := pipeline.GetPacket[pipeline.DataCompletePacket](m); ok {
		s.complete++
	}
	return nil
}

func TestStreamGenerationStageEmitsLoadsAndComplete(t *testing.T) {
	sink := &sinkStage{}
	sink.BaseStage.Process = sink.process

	gen := NewStreamGenerationStage(zap.NewNop())
	sys := pipeline.NewSystem(2, 8, false, zap.NewNop(), gen, sink)
	defer sys.Shutdown(context.Background())

	src := &stubSource{rows: [][]any{{1, "a"}, {2, "b"}, {3, "c"}}}
	m := pipeline.NewMessage(
		pipeline.ImportTablePacket{Source: src, Table: "orders"},
		pipeline.DataFormatPacket{Format: pipeline.RowFormat{FieldTerminator: "|", FieldWrapper: "\"", LineTerminator: "\n"}},
	)

	if err := sys.Enqueue(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	if err := sys.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}

	if sink.loads != 3 {
		t.Fatalf("expected 3 load packets, got %d", sink.loads)
	}
	if sink.complete != 1 {
		t.Fatalf("expected 1 complete packet, got %d", sink.complete)
	}
}

func TestStreamGenerationStageSkipsUnloadMessages(t *testing.T) {
	gen := NewStreamGenerationStage(zap.NewNop())
	m := pipeline.NewMessage(
		pipeline.ImportTablePacket{Table: "orders"},
		pipeline.DataUnloadPacket{Bucket: "b", KeyPrefix: "p"},
	)
	if gen.BaseStage.Matches(m) {
		t.Fatalf("expected stage to skip messages already carrying a DataUnloadPacket")
	}
}
