package protocol

import (
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
)

// Accept decides whether a message received on pipe eid is surfaced to
// the user (returning it, possibly transformed — e.g. backtrace
// stripped) or silently dropped so the fair queue immediately resumes
// reading that pipe for the next message. A nil Accept always accepts
// unchanged (Pull, Bus).
type Accept func(eid uint32, m *msg.Message) (*msg.Message, bool)

// FairQueue implements the fair-queue recv side shared by Pull, Sub,
// Rep, Respondent, Req (reply side) and Bus, per spec.md §3/§4.5: each
// pipe, once recv-ready, continuously reads one message ahead into a
// per-pipe buffer slot; recv() drains whichever buffered pipe the
// Priolist picks next and immediately re-arms that pipe's read.
type FairQueue struct {
	order  *Priolist
	pipes  map[uint32]*transport.Pipe
	buf    map[uint32]*msg.Message
	pending bool
	accept Accept
}

func NewFairQueue(pipes map[uint32]*transport.Pipe, accept Accept) *FairQueue {
	if accept == nil {
		accept = func(_ uint32, m *msg.Message) (*msg.Message, bool) { return m, true }
	}
	return &FairQueue{order: NewPriolist(), pipes: pipes, buf: make(map[uint32]*msg.Message), accept: accept}
}

func (f *FairQueue) AddPipe(eid uint32, priority uint8) { f.order.Insert(eid, priority) }

// RemovePipe drops eid's buffered message, if any. It reports whether
// a buffered-but-undelivered message was discarded.
func (f *FairQueue) RemovePipe(eid uint32) bool {
	_, hadBuf := f.buf[eid]
	f.order.Remove(eid)
	delete(f.buf, eid)
	return hadBuf
}

func (f *FairQueue) rearm(eid uint32) {
	if p, ok := f.pipes[eid]; ok {
		p.RequestRecv()
	}
}

// Arm starts eid's continuous one-ahead prefetch; call once a pipe
// raises CanRecv.
func (f *FairQueue) Arm(eid uint32) { f.rearm(eid) }

// OnReceived processes one message read off pipe eid. If a user recv
// is currently parked (Pending), and the message is accepted, it is
// delivered directly and the returned ok is true; otherwise it is
// buffered (or dropped) and ok is false.
func (f *FairQueue) OnReceived(eid uint32, m *msg.Message) (delivered *msg.Message, deliveredEID uint32, ok bool) {
	out, accepted := f.accept(eid, m)
	if !accepted {
		f.rearm(eid)
		return nil, 0, false
	}
	if f.pending {
		f.pending = false
		f.rearm(eid)
		return out, eid, true
	}
	f.buf[eid] = out
	f.order.Activate(eid)
	return nil, 0, false
}

// TryRecv pops the next buffered message in fair-queue order. If none
// is buffered, it marks a recv as pending and returns ok=false; the
// next OnReceived call will then deliver directly.
func (f *FairQueue) TryRecv() (*msg.Message, uint32, bool) {
	id, ok := f.order.Pop()
	if !ok {
		f.pending = true
		return nil, 0, false
	}
	m := f.buf[id]
	delete(f.buf, id)
	f.order.Deactivate(id)
	f.rearm(id)
	return m, id, true
}

// CancelPending clears a parked recv without touching buffered data.
func (f *FairQueue) CancelPending() { f.pending = false }

// Pending reports whether a user recv is currently parked.
func (f *FairQueue) Pending() bool { return f.pending }

// HasBuffered reports whether at least one pipe has a message already
// read ahead and waiting for TryRecv, without consuming it. Used by
// Probe (spec.md §4.6) to take a non-destructive can_recv snapshot.
func (f *FairQueue) HasBuffered() bool { return len(f.buf) > 0 }
