package protocol

import (
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
)

// Broadcast implements the "bc" set from spec.md §3: a set of pipes a
// message is fanned out to. Unlike LoadBalance it has no priority or
// parking — spec.md is explicit that pub/sub-style broadcast is lossy
// under backpressure, so a pipe that is not currently ready simply
// does not receive this message.
type Broadcast struct {
	ready map[uint32]bool
	pipes map[uint32]*transport.Pipe
}

func NewBroadcast(pipes map[uint32]*transport.Pipe) *Broadcast {
	return &Broadcast{ready: make(map[uint32]bool), pipes: pipes}
}

func (b *Broadcast) AddPipe(eid uint32)    { b.ready[eid] = false }
func (b *Broadcast) RemovePipe(eid uint32) { delete(b.ready, eid) }
func (b *Broadcast) Activate(eid uint32) {
	if _, ok := b.ready[eid]; ok {
		b.ready[eid] = true
	}
}
func (b *Broadcast) Deactivate(eid uint32) {
	if _, ok := b.ready[eid]; ok {
		b.ready[eid] = false
	}
}

// SendAll writes m to every ready pipe, handing each recipient its own
// Share() of m (the caller keeps, and releases, its own reference), and
// marks each as no longer ready (busy sending).
// It returns how many pipes received it.
func (b *Broadcast) SendAll(m *msg.Message) int {
	return b.sendToAllExcept(m, 0, false)
}

// SendAllExcept is Bus's relay fan-out: every ready pipe other than
// except receives the message.
func (b *Broadcast) SendAllExcept(m *msg.Message, except uint32) int {
	return b.sendToAllExcept(m, except, true)
}

func (b *Broadcast) sendToAllExcept(m *msg.Message, except uint32, exclude bool) int {
	sent := 0
	for eid, ready := range b.ready {
		if !ready {
			continue
		}
		if exclude && eid == except {
			continue
		}
		p, ok := b.pipes[eid]
		if !ok {
			continue
		}
		p.Send(m.Share())
		b.ready[eid] = false
		sent++
	}
	return sent
}

func (b *Broadcast) Len() int { return len(b.ready) }

// AnyReady reports whether at least one pipe would currently receive a
// broadcast message. Used by Probe (spec.md §4.6) to take a
// non-destructive can_send snapshot for Pub/Bus/Surveyor.
func (b *Broadcast) AnyReady() bool {
	for _, ready := range b.ready {
		if ready {
			return true
		}
	}
	return false
}
