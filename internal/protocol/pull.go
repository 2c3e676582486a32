package protocol

import (
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Pull is the pipeline recv-side engine, spec.md §4.5.1: each receive
// consumes exactly one message from exactly one pipe, fair-queued.
type Pull struct {
	Base
	fq *FairQueue
}

func NewPull(ctx Context) *Pull {
	p := &Pull{Base: NewBase(ctx)}
	p.fq = NewFairQueue(p.Pipes, nil)
	return p
}

func (p *Pull) ProtoID() uint16 { return wire.ProtoPull }

func (p *Pull) AddPipe(eid uint32, pipe *transport.Pipe) error {
	p.addPipe(eid, pipe)
	p.fq.AddPipe(eid, p.Opts.RecvPriority)
	return nil
}

func (p *Pull) RemovePipe(eid uint32) bool {
	p.fq.RemovePipe(eid)
	return p.removePipe(eid)
}

func (p *Pull) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanRecv:
		p.fq.Arm(eid)
	case transport.EvReceived:
		if m, deid, ok := p.fq.OnReceived(eid, evt.Msg); ok {
			p.Ctx.Metrics().Received()
			p.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
			_ = deid
		}
	case transport.EvClosed, transport.EvError:
		p.RemovePipe(eid)
	}
}

func (p *Pull) Send(*msg.Message) error {
	return spserr.New(spserr.Other, "pull sockets do not support send")
}

func (p *Pull) Recv() error {
	if p.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, _, ok := p.fq.TryRecv(); ok {
		p.Ctx.Metrics().Received()
		p.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
	}
	return nil
}

func (p *Pull) CancelSend() {}
func (p *Pull) CancelRecv() { p.fq.CancelPending() }

func (p *Pull) OnTimer(timer.ID) {}

func (p *Pull) Close() {}

func (p *Pull) Readiness() (canSend, canRecv bool) {
	return false, p.fq.HasBuffered()
}
