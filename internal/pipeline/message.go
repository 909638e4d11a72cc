package pipeline

import (
	"context"

	"github.com/google/uuid"
)

// Message is the unit of work moving through a pipeline System. It carries
// a set of Packets, tracks its position in the stage list, and — for
// messages spawned as tracked children of another message — a Handle the
// parent can wait on.
type Message struct {
	MsgID     string
	InitialID string

	stageIdx int
	packets  []Packet

	system *System
	handle *Handle
}

// NewMessage creates a root message (its own lineage) carrying the given
// initial packets.
func NewMessage(packets ...Packet) *Message {
	id := uuid.NewString()
	return &Message{
		MsgID:     id,
		InitialID: id,
		stageIdx:  -1,
		packets:   packets,
	}
}

// Child creates a new message sharing this message's lineage (InitialID),
// optionally tracked via a Handle the parent can await.
func (m *Message) Child(trackChildren bool, packets ...Packet) *Message {
	child := &Message{
		MsgID:     uuid.NewString(),
		InitialID: m.InitialID,
		stageIdx:  -1,
		packets:   packets,
	}
	if trackChildren {
		child.handle = NewHandle()
	}
	return child
}

// Handle returns the Handle tracking this message's completion, if any.
func (m *Message) Handle() *Handle { return m.handle }

// ForwardChild spawns a tracked child message carrying the given packets
// and forwards it into the same system at this message's current stage
// position, returning the child so its Handle can be joined later. Used by
// stages (the unload retrieval stage, notably) that fan one incoming
// message out into many independently-progressing messages.
func (m *Message) ForwardChild(ctx context.Context, trackChildren bool, packets ...Packet) (*Message, error) {
	child := m.Child(trackChildren, packets...)
	child.system = m.system
	child.stageIdx = m.stageIdx
	err := child.Forward(ctx)
	// Forward runs the child through the remaining stages synchronously, so
	// it is done whether it reached the warning sink or a stage consumed it.
	if child.handle != nil {
		child.handle.Complete()
	}
	return child, err
}

// AddPacket appends a packet to the message.
func (m *Message) AddPacket(p Packet) { m.packets = append(m.packets, p) }

// RemovePacket removes the first packet matching the type of the given
// example value.
func (m *Message) RemovePacket(p Packet) {
	target := p.packetType()
	for i, existing := range m.packets {
		if existing.packetType() == target {
			m.packets = append(m.packets[:i], m.packets[i+1:]...)
			return
		}
	}
}

// GetPacket returns the first packet of type T carried by the message.
// Returns ok=false if the message carries none.
func GetPacket[T Packet](m *Message) (T, bool) {
	var zero T
	for _, p := range m.packets {
		if typed, ok := p.(T); ok {
			return typed, true
		}
	}
	return zero, false
}

// MustGetPacket returns the packet a stage declared as required, or
// ErrMissingPacket if the message doesn't carry one.
func MustGetPacket[T Packet](m *Message) (T, error) {
	p, ok := GetPacket[T](m)
	if !ok {
		var zero T
		return zero, &ErrMissingPacket{MsgID: m.MsgID, PacketType: zero.packetType()}
	}
	return p, nil
}

// GetPackets returns all packets of the given type.
func GetPackets[T Packet](m *Message) []T {
	var out []T
	for _, p := range m.packets {
		if typed, ok := p.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// PopPackets removes and returns all packets of the given type.
func PopPackets[T Packet](m *Message) []T {
	var out []T
	kept := m.packets[:0]
	for _, p := range m.packets {
		if typed, ok := p.(T); ok {
			out = append(out, typed)
		} else {
			kept = append(kept, p)
		}
	}
	m.packets = kept
	return out
}
