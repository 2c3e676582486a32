package protocol

import (
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Req is the request side, spec.md §4.5.3: a single outstanding
// request is load-balanced to one pipe, tagged with a fresh backtrace
// id; if no matching reply arrives within ResendInterval, the same
// request is resent to (possibly) another ready pipe.
type Req struct {
	Base
	lb       *LoadBalance
	fq       *FairQueue
	nextID   uint32
	reqID    uint32
	pending  *msg.Message // original body, for resend
	resendID timer.ID
	hasTimer bool
}

func NewReq(ctx Context) *Req {
	r := &Req{Base: NewBase(ctx)}
	r.lb = NewLoadBalance(r.Pipes)
	r.fq = NewFairQueue(r.Pipes, r.acceptReply)
	return r
}

func (r *Req) ProtoID() uint16 { return wire.ProtoReq }

func (r *Req) AddPipe(eid uint32, pipe *transport.Pipe) error {
	r.addPipe(eid, pipe)
	r.lb.AddPipe(eid, r.Opts.SendPriority)
	r.fq.AddPipe(eid, r.Opts.RecvPriority)
	return nil
}

func (r *Req) RemovePipe(eid uint32) bool {
	if m := r.lb.RemovePipe(eid); m != nil {
		r.lb.TrySend(m)
	}
	r.fq.RemovePipe(eid)
	return r.removePipe(eid)
}

func (r *Req) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanSend:
		r.lb.Activate(eid)
	case transport.EvSent:
		if r.lb.OnSent(eid) {
			r.Ctx.Metrics().Sent()
		}
	case transport.EvCanRecv:
		r.fq.Arm(eid)
	case transport.EvReceived:
		if m, _, ok := r.fq.OnReceived(eid, evt.Msg); ok {
			r.deliverReply(m)
		}
	case transport.EvClosed, transport.EvError:
		r.RemovePipe(eid)
	}
}

// acceptReply strips the backtrace and keeps only replies matching the
// currently outstanding request id; anything else (a stale reply from
// a cancelled/resent request) is dropped per spec.md §4.5.3.
func (r *Req) acceptReply(_ uint32, m *msg.Message) (*msg.Message, bool) {
	if r.pending == nil {
		return nil, false
	}
	id, ok := TopID(m.Header)
	if !ok || id != r.reqID {
		r.Ctx.Metrics().Dropped("req-id-mismatch")
		return nil, false
	}
	return m.WithHeader(nil), true
}

func (r *Req) deliverReply(m *msg.Message) {
	r.cancelResend()
	r.pending = nil
	r.Ctx.Metrics().Received()
	r.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
}

func (r *Req) Send(m *msg.Message) error {
	if r.pending != nil {
		return spserr.ErrSendInProgress
	}
	r.nextID++
	r.reqID = r.nextID
	r.pending = m
	header := PushID(nil, r.reqID, true)
	r.lb.TrySend(m.WithHeader(header))
	r.armResend()
	r.Ctx.CompleteSend(Outcome{Kind: OutSent})
	return nil
}

func (r *Req) Recv() error {
	if r.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, _, ok := r.fq.TryRecv(); ok {
		r.deliverReply(m)
	}
	return nil
}

func (r *Req) armResend() {
	r.cancelResend()
	r.resendID = r.Ctx.Schedule(r.Opts.ResendInterval)
	r.hasTimer = true
}

func (r *Req) cancelResend() {
	if r.hasTimer {
		r.Ctx.Cancel(r.resendID)
		r.hasTimer = false
	}
}

func (r *Req) OnTimer(id timer.ID) {
	if !r.hasTimer || id != r.resendID || r.pending == nil {
		return
	}
	r.Ctx.Metrics().Reconnect() // resend counted alongside reconnects, no dedicated counter
	header := PushID(nil, r.reqID, true)
	r.lb.TrySend(r.pending.WithHeader(header))
	r.armResend()
}

func (r *Req) CancelSend() {
	r.lb.Cancel()
	r.cancelResend()
	r.pending = nil
}

func (r *Req) CancelRecv() { r.fq.CancelPending() }

func (r *Req) Close() {
	r.cancelResend()
	r.lb.Cancel()
}

func (r *Req) Readiness() (canSend, canRecv bool) {
	return r.pending == nil, r.fq.HasBuffered()
}

// Rep is the reply side: each received request is fair-queued like
// Pull, but the reply must be routed back along the same pipe using
// the request's backtrace, and only one request may be outstanding
// awaiting its reply at a time (spec.md §4.5.3).
type Rep struct {
	Base
	fq          *FairQueue
	backtrace   []byte
	replyEID    uint32
	replyPending bool
}

func NewRep(ctx Context) *Rep {
	rp := &Rep{Base: NewBase(ctx)}
	rp.fq = NewFairQueue(rp.Pipes, rp.acceptRequest)
	return rp
}

func (rp *Rep) ProtoID() uint16 { return wire.ProtoRep }

func (rp *Rep) acceptRequest(eid uint32, m *msg.Message) (*msg.Message, bool) {
	bt, _, rest, ok := PeelBacktrace(m.Header)
	if !ok {
		rp.Ctx.Metrics().Dropped("missing-backtrace")
		return nil, false
	}
	_ = rest
	return m.WithHeader(append([]byte(nil), bt...)), true
}

func (rp *Rep) AddPipe(eid uint32, pipe *transport.Pipe) error {
	rp.addPipe(eid, pipe)
	rp.fq.AddPipe(eid, rp.Opts.RecvPriority)
	return nil
}

func (rp *Rep) RemovePipe(eid uint32) bool {
	rp.fq.RemovePipe(eid)
	if rp.replyPending && rp.replyEID == eid {
		rp.replyPending = false
	}
	return rp.removePipe(eid)
}

func (rp *Rep) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanRecv:
		rp.fq.Arm(eid)
	case transport.EvReceived:
		if m, deid, ok := rp.fq.OnReceived(eid, evt.Msg); ok {
			rp.deliverRequest(m, deid)
		}
	case transport.EvClosed, transport.EvError:
		rp.RemovePipe(eid)
	}
}

func (rp *Rep) deliverRequest(m *msg.Message, eid uint32) {
	rp.backtrace = m.Header
	rp.replyEID = eid
	rp.replyPending = true
	rp.Ctx.Metrics().Received()
	rp.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: msg.New(m.Body)})
}

func (rp *Rep) Recv() error {
	if rp.replyPending {
		return spserr.New(spserr.Other, "reply required before receiving next request")
	}
	if rp.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, deid, ok := rp.fq.TryRecv(); ok {
		rp.deliverRequest(m, deid)
	}
	return nil
}

func (rp *Rep) Send(m *msg.Message) error {
	if !rp.replyPending {
		return spserr.New(spserr.Other, "no outstanding request to reply to")
	}
	pipe, ok := rp.Pipes[rp.replyEID]
	rp.replyPending = false
	if !ok {
		return spserr.New(spserr.Other, "originating pipe is gone")
	}
	pipe.Send(m.WithHeader(rp.backtrace))
	rp.Ctx.Metrics().Sent()
	rp.Ctx.CompleteSend(Outcome{Kind: OutSent})
	return nil
}

func (rp *Rep) CancelSend() { rp.replyPending = false }
func (rp *Rep) CancelRecv() { rp.fq.CancelPending() }
func (rp *Rep) OnTimer(timer.ID) {}
func (rp *Rep) Close()          {}

func (rp *Rep) Readiness() (canSend, canRecv bool) {
	return rp.replyPending, !rp.replyPending && rp.fq.HasBuffered()
}
