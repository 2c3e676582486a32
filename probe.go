package spscale

import "time"

// Probe multiplexes a readiness poll across a set of sockets, per
// spec.md §4.6: a per-socket (can_send, can_recv) snapshot taken
// without consuming a message or otherwise touching any socket's
// send/recv state, generalizing original_source's Probe (core/probe.rs,
// facade/probe.rs). It shares Device's poll loop (core/device.rs's
// "poll (L.can_recv, R.can_recv) ... block on poll if neither"):
// unlike Device, which can lean on Go's blocking Socket.Recv instead of
// polling, a non-destructive readiness check has no blocking primitive
// to wait on, so Poll falls back to the original's interval-based poll.
type Probe struct {
	sockets  []*Socket
	interval time.Duration
}

// NewProbe builds a Probe over sockets.
func NewProbe(sockets ...*Socket) *Probe {
	return &Probe{sockets: sockets, interval: time.Millisecond}
}

// Snapshot is one socket's readiness as of a Poll call.
type Snapshot struct {
	Socket  *Socket
	CanSend bool
	CanRecv bool
}

// Poll blocks until at least one socket can send or receive, or until
// timeout elapses, then returns every socket's (can_send, can_recv)
// snapshot as of that moment, in the order sockets were passed to
// NewProbe. A timeout of zero or less takes one immediate snapshot
// without blocking. Poll never sends, receives, or otherwise mutates
// any socket.
func (p *Probe) Poll(timeout time.Duration) ([]Snapshot, error) {
	deadline := time.Now().Add(timeout)
	for {
		snaps := make([]Snapshot, len(p.sockets))
		ready := false
		for i, s := range p.sockets {
			canSend, canRecv, err := s.Readiness()
			if err != nil {
				return nil, err
			}
			snaps[i] = Snapshot{Socket: s, CanSend: canSend, CanRecv: canRecv}
			ready = ready || canSend || canRecv
		}
		if ready || timeout <= 0 || !time.Now().Before(deadline) {
			return snaps, nil
		}
		time.Sleep(p.interval)
	}
}
