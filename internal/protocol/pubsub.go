package protocol

import (
	"bytes"

	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Pub is the publish side, spec.md §4.5.2: send fans out to every
// ready pipe, lossily; recv is unsupported.
type Pub struct {
	Base
	bc *Broadcast
}

func NewPub(ctx Context) *Pub {
	p := &Pub{Base: NewBase(ctx)}
	p.bc = NewBroadcast(p.Pipes)
	return p
}

func (p *Pub) ProtoID() uint16 { return wire.ProtoPub }

func (p *Pub) AddPipe(eid uint32, pipe *transport.Pipe) error {
	p.addPipe(eid, pipe)
	p.bc.AddPipe(eid)
	return nil
}

func (p *Pub) RemovePipe(eid uint32) bool {
	p.bc.RemovePipe(eid)
	return p.removePipe(eid)
}

func (p *Pub) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanSend:
		p.bc.Activate(eid)
	case transport.EvSent:
		p.bc.Activate(eid)
	case transport.EvClosed, transport.EvError:
		p.RemovePipe(eid)
	}
}

func (p *Pub) Send(m *msg.Message) error {
	n := p.bc.SendAll(m)
	m.Release()
	if n == 0 {
		p.Ctx.Metrics().Dropped("no-ready-subscriber")
	} else {
		p.Ctx.Metrics().Sent()
	}
	p.Ctx.CompleteSend(Outcome{Kind: OutSent})
	return nil
}

func (p *Pub) Recv() error {
	return spserr.New(spserr.Other, "pub sockets do not support recv")
}

func (p *Pub) CancelSend() {}
func (p *Pub) CancelRecv() {}
func (p *Pub) OnTimer(timer.ID) {}
func (p *Pub) Close()          {}

func (p *Pub) Readiness() (canSend, canRecv bool) {
	return p.bc.AnyReady(), false
}

// Sub is the subscribe side: send is unsupported; recv fair-queues
// across pipes, discarding messages that match no subscription.
type Sub struct {
	Base
	fq   *FairQueue
	subs [][]byte
}

func NewSub(ctx Context) *Sub {
	s := &Sub{Base: NewBase(ctx)}
	s.fq = NewFairQueue(s.Pipes, s.accept)
	return s
}

func (s *Sub) ProtoID() uint16 { return wire.ProtoSub }

func (s *Sub) accept(eid uint32, m *msg.Message) (*msg.Message, bool) {
	if len(s.subs) == 0 {
		return m, true
	}
	for _, prefix := range s.subs {
		if bytes.HasPrefix(m.Body, prefix) {
			return m, true
		}
	}
	s.Ctx.Metrics().Dropped("subscription")
	return nil, false
}

func (s *Sub) AddPipe(eid uint32, pipe *transport.Pipe) error {
	s.addPipe(eid, pipe)
	s.fq.AddPipe(eid, s.Opts.RecvPriority)
	return nil
}

func (s *Sub) RemovePipe(eid uint32) bool {
	s.fq.RemovePipe(eid)
	return s.removePipe(eid)
}

func (s *Sub) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanRecv:
		s.fq.Arm(eid)
	case transport.EvReceived:
		if m, _, ok := s.fq.OnReceived(eid, evt.Msg); ok {
			s.Ctx.Metrics().Received()
			s.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
		}
	case transport.EvClosed, transport.EvError:
		s.RemovePipe(eid)
	}
}

func (s *Sub) Send(*msg.Message) error {
	return spserr.New(spserr.Other, "sub sockets do not support send")
}

func (s *Sub) Recv() error {
	if s.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, _, ok := s.fq.TryRecv(); ok {
		s.Ctx.Metrics().Received()
		s.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
	}
	return nil
}

func (s *Sub) CancelSend() {}
func (s *Sub) CancelRecv() { s.fq.CancelPending() }
func (s *Sub) OnTimer(timer.ID) {}
func (s *Sub) Close()          {}

func (s *Sub) Readiness() (canSend, canRecv bool) {
	return false, s.fq.HasBuffered()
}

// Subscribe adds a prefix to match against incoming message bodies. An
// empty subscription set matches everything.
func (s *Sub) Subscribe(prefix []byte) {
	s.subs = append(s.subs, append([]byte(nil), prefix...))
}

// Unsubscribe removes a previously added prefix, if present.
func (s *Sub) Unsubscribe(prefix []byte) {
	for i, p := range s.subs {
		if bytes.Equal(p, prefix) {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}
