package protocol

import (
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Bus is the many-to-many engine, spec.md §4.5.6: every sent message
// is fanned out to every other connected pipe (lossy, like Pub, no
// reply routing). Every message arriving on one pipe is both relayed
// to every other connected pipe (send_to_all_except the origin) and
// surfaced to the local recv surface, fair-queued like Pull.
type Bus struct {
	Base
	bc *Broadcast
	fq *FairQueue
}

func NewBus(ctx Context) *Bus {
	b := &Bus{Base: NewBase(ctx)}
	b.bc = NewBroadcast(b.Pipes)
	b.fq = NewFairQueue(b.Pipes, nil)
	return b
}

func (b *Bus) ProtoID() uint16 { return wire.ProtoBus }

func (b *Bus) AddPipe(eid uint32, pipe *transport.Pipe) error {
	b.addPipe(eid, pipe)
	b.bc.AddPipe(eid)
	b.fq.AddPipe(eid, b.Opts.RecvPriority)
	return nil
}

func (b *Bus) RemovePipe(eid uint32) bool {
	b.bc.RemovePipe(eid)
	b.fq.RemovePipe(eid)
	return b.removePipe(eid)
}

func (b *Bus) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanSend:
		b.bc.Activate(eid)
	case transport.EvSent:
		b.bc.Activate(eid)
	case transport.EvCanRecv:
		b.fq.Arm(eid)
	case transport.EvReceived:
		b.bc.SendAllExcept(evt.Msg, eid)
		if m, _, ok := b.fq.OnReceived(eid, evt.Msg); ok {
			b.Ctx.Metrics().Received()
			b.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
		}
	case transport.EvClosed, transport.EvError:
		b.RemovePipe(eid)
	}
}

func (b *Bus) Send(m *msg.Message) error {
	n := b.bc.SendAll(m)
	m.Release()
	if n == 0 {
		b.Ctx.Metrics().Dropped("no-ready-peer")
	} else {
		b.Ctx.Metrics().Sent()
	}
	b.Ctx.CompleteSend(Outcome{Kind: OutSent})
	return nil
}

func (b *Bus) Recv() error {
	if b.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, _, ok := b.fq.TryRecv(); ok {
		b.Ctx.Metrics().Received()
		b.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
	}
	return nil
}

func (b *Bus) CancelSend() {}
func (b *Bus) CancelRecv() { b.fq.CancelPending() }
func (b *Bus) OnTimer(timer.ID) {}
func (b *Bus) Close()          {}

func (b *Bus) Readiness() (canSend, canRecv bool) {
	return b.bc.AnyReady(), b.fq.HasBuffered()
}
