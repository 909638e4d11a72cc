package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type recordingStage struct {
	name string
	hits *[]string
}

func (s *recordingStage) Receive(ctx context.Context, m *Message) error {
	*s.hits = append(*s.hits, s.name)
	return m.Forward(ctx)
}

func TestForwardAdvancesThroughStages(t *testing.T) {
	var hits []string
	sys := NewSystem(1, 4, false, zap.NewNop(),
		&recordingStage{name: "a", hits: &hits},
		&recordingStage{name: "b", hits: &hits},
	)
	defer sys.Shutdown(context.Background())

	m := NewMessage()
	if err := sys.process(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	if len(hits) != 2 || hits[0] != "a" || hits[1] != "b" {
		t.Fatalf("expected stages a,b to run in order, got %v", hits)
	}
}

type retryOnceStage struct {
	attempts int
}

func (s *retryOnceStage) Receive(ctx context.Context, m *Message) error {
	s.attempts++
	if s.attempts == 1 {
		return nil
	}
	return m.Forward(ctx)
}

func TestRedispatchReRunsCurrentStage(t *testing.T) {
	stage := &retryOnceStage{}
	sys := NewSystem(1, 4, false, zap.NewNop(), stage)
	defer sys.Shutdown(context.Background())

	m := NewMessage()
	m.system = sys
	m.stageIdx = -1

	if err := m.Forward(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stage.attempts != 1 {
		t.Fatalf("expected one attempt after Forward, got %d", stage.attempts)
	}

	if err := m.Redispatch(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stage.attempts != 2 {
		t.Fatalf("expected Redispatch to re-run the same stage, got %d attempts", stage.attempts)
	}
}

func TestForwardChildSharesLineageAndStagePosition(t *testing.T) {
	var hits []string
	sys := NewSystem(1, 4, false, zap.NewNop(), &recordingStage{name: "only", hits: &hits})
	defer sys.Shutdown(context.Background())

	parent := NewMessage()
	parent.system = sys
	parent.stageIdx = -1 // about to be dispatched to stage 0

	child, err := parent.ForwardChild(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if child.InitialID != parent.InitialID {
		t.Fatalf("expected child to share parent lineage")
	}
	if child.Handle() == nil {
		t.Fatalf("expected tracked child to have a handle")
	}
	if len(hits) != 1 || hits[0] != "only" {
		t.Fatalf("expected child to advance into the stage at parent's position, got %v", hits)
	}
}

func TestPacketHelpers(t *testing.T) {
	m := NewMessage(ImportTablePacket{Table: "users"}, DataCompletePacket{})

	if _, ok := GetPacket[ImportTablePacket](m); !ok {
		t.Fatalf("expected ImportTablePacket present")
	}
	loads := GetPackets[DataLoadPacket](m)
	if len(loads) != 0 {
		t.Fatalf("expected no DataLoadPacket present")
	}

	m.AddPacket(DataLoadPacket{Data: []byte("a")})
	m.AddPacket(DataLoadPacket{Data: []byte("b")})
	popped := PopPackets[DataLoadPacket](m)
	if len(popped) != 2 {
		t.Fatalf("expected to pop 2 DataLoadPackets, got %d", len(popped))
	}
	if more := GetPackets[DataLoadPacket](m); len(more) != 0 {
		t.Fatalf("expected DataLoadPackets removed after pop")
	}

	if _, ok := GetPacket[ImportTablePacket](m); !ok {
		t.Fatalf("expected ImportTablePacket to survive popping a different type")
	}
}

func TestMustGetPacketReturnsErrorWhenMissing(t *testing.T) {
	m := NewMessage()
	_, err := MustGetPacket[ImportTablePacket](m)
	var missing *ErrMissingPacket
	if !errors.As(err, &missing) {
		t.Fatalf("expected ErrMissingPacket, got %v", err)
	}
	if missing.PacketType != (ImportTablePacket{}).packetType() {
		t.Fatalf("expected packet type %q, got %q", (ImportTablePacket{}).packetType(), missing.PacketType)
	}
}
