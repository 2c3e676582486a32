package protocol

import (
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
)

// LoadBalance implements the send side shared by Push and Req: a
// single outstanding message is dispatched to one ready pipe chosen by
// Priolist rotation; if none is ready it is parked until the next
// CanSend activation.
type LoadBalance struct {
	order       *Priolist
	pipes       map[uint32]*transport.Pipe
	pendingMsg  *msg.Message
	inflight    *msg.Message
	inflightEID uint32
}

func NewLoadBalance(pipes map[uint32]*transport.Pipe) *LoadBalance {
	return &LoadBalance{order: NewPriolist(), pipes: pipes}
}

func (lb *LoadBalance) AddPipe(eid uint32, priority uint8) { lb.order.Insert(eid, priority) }

// RemovePipe reports the in-flight message that needs requeuing, if
// eid was carrying it, so the caller can re-send or fail it.
func (lb *LoadBalance) RemovePipe(eid uint32) *msg.Message {
	lb.order.Remove(eid)
	if lb.inflight != nil && lb.inflightEID == eid {
		m := lb.inflight
		lb.inflight = nil
		return m
	}
	return nil
}

// Activate marks eid ready to send (CanSend) and, if a message is
// parked, immediately attempts to dispatch it.
func (lb *LoadBalance) Activate(eid uint32) {
	lb.order.Activate(eid)
	if lb.pendingMsg != nil && lb.inflight == nil {
		m := lb.pendingMsg
		lb.pendingMsg = nil
		lb.TrySend(m)
	}
}

// TrySend dispatches m to the highest-priority ready pipe, or parks it
// if none is ready. Returns true iff it was dispatched now.
func (lb *LoadBalance) TrySend(m *msg.Message) bool {
	if lb.inflight != nil {
		lb.pendingMsg = m
		return false
	}
	id, ok := lb.order.Pop()
	if !ok {
		lb.pendingMsg = m
		return false
	}
	lb.order.Deactivate(id)
	lb.inflight = m
	lb.inflightEID = id
	lb.pipes[id].Send(m)
	return true
}

// OnSent reports whether eid completed the current in-flight message.
func (lb *LoadBalance) OnSent(eid uint32) bool {
	if lb.inflight != nil && lb.inflightEID == eid {
		lb.inflight = nil
		lb.inflightEID = 0
		return true
	}
	return false
}

// HasReady reports whether at least one pipe is currently ready and no
// send is in flight — used by Push.Readiness for its can_send snapshot.
func (lb *LoadBalance) HasReady() bool {
	return lb.inflight == nil && len(lb.order.ActiveIDs()) > 0
}

// Cancel drops any parked or in-flight message tracking (used when a
// deadline fires or the engine closes). It does not stop I/O already
// begun on a pipe, per spec.md §9's no-linger note.
func (lb *LoadBalance) Cancel() {
	lb.pendingMsg = nil
	lb.inflight = nil
	lb.inflightEID = 0
}

func (lb *LoadBalance) InFlight() bool { return lb.inflight != nil }

// Pending reports whether a send is outstanding, whether already
// dispatched to a pipe or parked awaiting one to become ready. Callers
// enforcing spec.md's "at most one outstanding send" invariant must
// check this, not just InFlight, else a parked message can be
// silently overwritten by a second Send.
func (lb *LoadBalance) Pending() bool { return lb.inflight != nil || lb.pendingMsg != nil }
