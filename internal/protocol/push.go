package protocol

import (
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Push is the pipeline send-side engine, spec.md §4.5.1: messages are
// never duplicated or retransmitted; on pipe close before Sent, the
// message is silently requeued onto another ready pipe if one exists.
type Push struct {
	Base
	lb *LoadBalance
}

func NewPush(ctx Context) *Push {
	p := &Push{Base: NewBase(ctx)}
	p.lb = NewLoadBalance(p.Pipes)
	return p
}

func (p *Push) ProtoID() uint16 { return wire.ProtoPush }

func (p *Push) AddPipe(eid uint32, pipe *transport.Pipe) error {
	p.addPipe(eid, pipe)
	p.lb.AddPipe(eid, p.Opts.SendPriority)
	return nil
}

func (p *Push) RemovePipe(eid uint32) bool {
	if m := p.lb.RemovePipe(eid); m != nil {
		// re-queue onto another ready pipe if one exists, else park it
		// until a pipe activates (send was never completed, so no
		// CompleteSend has fired; the dispatcher's own deadline timer,
		// if any, will eventually time it out).
		p.lb.TrySend(m)
	}
	return p.removePipe(eid)
}

func (p *Push) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanSend:
		p.lb.Activate(eid)
	case transport.EvSent:
		if p.lb.OnSent(eid) {
			p.Ctx.Metrics().Sent()
			p.Ctx.CompleteSend(Outcome{Kind: OutSent})
		}
	case transport.EvClosed, transport.EvError:
		p.RemovePipe(eid)
	}
}

func (p *Push) Send(m *msg.Message) error {
	if p.lb.Pending() {
		return spserr.ErrSendInProgress
	}
	p.lb.TrySend(m)
	return nil
}

func (p *Push) Recv() error {
	return spserr.New(spserr.Other, "push sockets do not support recv")
}

func (p *Push) CancelSend() { p.lb.Cancel() }
func (p *Push) CancelRecv() {}

func (p *Push) OnTimer(timer.ID) {}

func (p *Push) Close() {
	p.lb.Cancel()
}

func (p *Push) Readiness() (canSend, canRecv bool) {
	return !p.lb.Pending() && p.lb.HasReady(), false
}
