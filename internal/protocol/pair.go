package protocol

import (
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Pair is the exclusive one-to-one engine, spec.md §4.5.5: at most one
// pipe is accepted at a time; a second connection attempt is refused
// at the pipe level (AddPipe returns an error) rather than queued.
type Pair struct {
	Base
	eid         uint32
	hasPipe     bool
	sendReady   bool
	sendInFlight bool
	pendingOut  *msg.Message
	recvBuf     *msg.Message
	recvWant    bool
}

func NewPair(ctx Context) *Pair {
	return &Pair{Base: NewBase(ctx)}
}

func (pr *Pair) ProtoID() uint16 { return wire.ProtoPair }

func (pr *Pair) AddPipe(eid uint32, pipe *transport.Pipe) error {
	if pr.hasPipe {
		return spserr.New(spserr.Other, "pair socket already has a connected peer")
	}
	pr.addPipe(eid, pipe)
	pr.eid = eid
	pr.hasPipe = true
	return nil
}

func (pr *Pair) RemovePipe(eid uint32) bool {
	if !pr.hasPipe || pr.eid != eid {
		return false
	}
	pr.hasPipe = false
	pr.sendReady = false
	pr.sendInFlight = false
	pr.pendingOut = nil
	return pr.removePipe(eid)
}

func (pr *Pair) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	if !pr.hasPipe || eid != pr.eid {
		return
	}
	switch evt.Kind {
	case transport.EvCanSend:
		pr.sendReady = true
		if pr.pendingOut != nil {
			m := pr.pendingOut
			pr.pendingOut = nil
			pr.sendReady = false
			pr.Pipes[pr.eid].Send(m)
		}
	case transport.EvSent:
		pr.sendReady = true
		pr.sendInFlight = false
		pr.Ctx.Metrics().Sent()
		pr.Ctx.CompleteSend(Outcome{Kind: OutSent})
	case transport.EvCanRecv:
		pr.Pipes[pr.eid].RequestRecv()
	case transport.EvReceived:
		if pr.recvWant {
			pr.recvWant = false
			pr.Ctx.Metrics().Received()
			pr.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: evt.Msg})
		} else {
			pr.recvBuf = evt.Msg
		}
	case transport.EvClosed, transport.EvError:
		pr.RemovePipe(eid)
	}
}

func (pr *Pair) Send(m *msg.Message) error {
	if pr.sendInFlight {
		return spserr.ErrSendInProgress
	}
	if !pr.hasPipe {
		return spserr.ErrNotConnected
	}
	pr.sendInFlight = true
	if pr.sendReady {
		pr.sendReady = false
		pr.Pipes[pr.eid].Send(m)
		return nil
	}
	pr.pendingOut = m
	return nil
}

func (pr *Pair) Recv() error {
	if pr.recvWant {
		return spserr.ErrRecvInProgress
	}
	if pr.recvBuf != nil {
		m := pr.recvBuf
		pr.recvBuf = nil
		pr.Ctx.Metrics().Received()
		pr.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
		return nil
	}
	if !pr.hasPipe {
		return spserr.ErrNotConnected
	}
	pr.recvWant = true
	pr.Pipes[pr.eid].RequestRecv()
	return nil
}

func (pr *Pair) CancelSend() {
	pr.pendingOut = nil
	pr.sendInFlight = false
}
func (pr *Pair) CancelRecv() { pr.recvWant = false }
func (pr *Pair) OnTimer(timer.ID) {}
func (pr *Pair) Close()          {}

func (pr *Pair) Readiness() (canSend, canRecv bool) {
	return pr.hasPipe && pr.sendReady && !pr.sendInFlight, pr.recvBuf != nil
}
