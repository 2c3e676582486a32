package protocol

import (
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
)

// Surveyor is the survey side, spec.md §4.5.4: Send broadcasts to every
// ready pipe under a fresh survey id and opens a deadline window; Recv
// fair-queues votes matching the current survey id until the deadline
// fires, after which further votes for that id are dropped.
type Surveyor struct {
	Base
	bc         *Broadcast
	fq         *FairQueue
	nextID     uint32
	surveyID   uint32
	open       bool
	deadlineID timer.ID
	hasTimer   bool
}

func NewSurveyor(ctx Context) *Surveyor {
	s := &Surveyor{Base: NewBase(ctx)}
	s.bc = NewBroadcast(s.Pipes)
	s.fq = NewFairQueue(s.Pipes, s.acceptVote)
	return s
}

func (s *Surveyor) ProtoID() uint16 { return wire.ProtoSurveyor }

func (s *Surveyor) AddPipe(eid uint32, pipe *transport.Pipe) error {
	s.addPipe(eid, pipe)
	s.bc.AddPipe(eid)
	s.fq.AddPipe(eid, s.Opts.RecvPriority)
	return nil
}

func (s *Surveyor) RemovePipe(eid uint32) bool {
	s.bc.RemovePipe(eid)
	s.fq.RemovePipe(eid)
	return s.removePipe(eid)
}

func (s *Surveyor) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanSend:
		s.bc.Activate(eid)
	case transport.EvSent:
		s.bc.Activate(eid)
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

func (s *Surveyor) acceptVote(_ uint32, m *msg.Message) (*msg.Message, bool) {
	if !s.open {
		s.Ctx.Metrics().Vote("late")
		return nil, false
	}
	id, ok := TopID(m.Header)
	if !ok || id != s.surveyID {
		s.Ctx.Metrics().Vote("mismatched")
		return nil, false
	}
	s.Ctx.Metrics().Vote("accepted")
	return m.WithHeader(nil), true
}

func (s *Surveyor) Send(m *msg.Message) error {
	s.closeSurvey()
	s.nextID++
	s.surveyID = s.nextID
	s.open = true
	header := PushID(nil, s.surveyID, true)
	s.bc.SendAll(m.WithHeader(header))
	m.Release()
	s.Ctx.Metrics().Sent()
	s.deadlineID = s.Ctx.Schedule(s.Opts.SurveyDeadline)
	s.hasTimer = true
	s.Ctx.CompleteSend(Outcome{Kind: OutSent})
	return nil
}

func (s *Surveyor) Recv() error {
	if !s.open {
		return spserr.New(spserr.Other, "no survey in progress")
	}
	if s.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, _, ok := s.fq.TryRecv(); ok {
		s.Ctx.Metrics().Received()
		s.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m})
	}
	return nil
}

func (s *Surveyor) closeSurvey() {
	if s.hasTimer {
		s.Ctx.Cancel(s.deadlineID)
		s.hasTimer = false
	}
	s.open = false
	s.fq.CancelPending()
}

func (s *Surveyor) OnTimer(id timer.ID) {
	if !s.hasTimer || id != s.deadlineID {
		return
	}
	s.hasTimer = false
	s.open = false
	if s.fq.Pending() {
		// Distinct from ErrTimedOut: this is the survey's own deadline
		// expiring, not the dispatcher's per-operation recv deadline.
		s.Ctx.CompleteRecv(Outcome{Kind: OutRecvFailed, Err: spserr.ErrSurveyDeadline})
	}
}

func (s *Surveyor) CancelSend() {}
func (s *Surveyor) CancelRecv() { s.fq.CancelPending() }
func (s *Surveyor) Close()      { s.closeSurvey() }

func (s *Surveyor) Readiness() (canSend, canRecv bool) {
	return s.bc.AnyReady(), s.open && s.fq.HasBuffered()
}

// Respondent is the survey-response side: each received survey is
// fair-queued like Pull, and the single outstanding response must be
// sent back along the pipe the survey arrived on, tagged with the
// surveyor's backtrace.
type Respondent struct {
	Base
	fq           *FairQueue
	backtrace    []byte
	replyEID     uint32
	replyPending bool
}

func NewRespondent(ctx Context) *Respondent {
	r := &Respondent{Base: NewBase(ctx)}
	r.fq = NewFairQueue(r.Pipes, r.acceptSurvey)
	return r
}

func (r *Respondent) ProtoID() uint16 { return wire.ProtoRespondent }

func (r *Respondent) acceptSurvey(_ uint32, m *msg.Message) (*msg.Message, bool) {
	bt, _, _, ok := PeelBacktrace(m.Header)
	if !ok {
		r.Ctx.Metrics().Dropped("missing-backtrace")
		return nil, false
	}
	return m.WithHeader(append([]byte(nil), bt...)), true
}

func (r *Respondent) AddPipe(eid uint32, pipe *transport.Pipe) error {
	r.addPipe(eid, pipe)
	r.fq.AddPipe(eid, r.Opts.RecvPriority)
	return nil
}

func (r *Respondent) RemovePipe(eid uint32) bool {
	r.fq.RemovePipe(eid)
	if r.replyPending && r.replyEID == eid {
		r.replyPending = false
	}
	return r.removePipe(eid)
}

func (r *Respondent) OnPipeEvent(eid uint32, evt transport.PipeEvent) {
	switch evt.Kind {
	case transport.EvCanRecv:
		r.fq.Arm(eid)
	case transport.EvReceived:
		if m, deid, ok := r.fq.OnReceived(eid, evt.Msg); ok {
			r.deliverSurvey(m, deid)
		}
	case transport.EvClosed, transport.EvError:
		r.RemovePipe(eid)
	}
}

func (r *Respondent) deliverSurvey(m *msg.Message, eid uint32) {
	r.backtrace = m.Header
	r.replyEID = eid
	r.replyPending = true
	r.Ctx.Metrics().Received()
	r.Ctx.CompleteRecv(Outcome{Kind: OutReceived, Msg: m.WithHeader(nil)})
}

func (r *Respondent) Recv() error {
	if r.replyPending {
		return spserr.New(spserr.Other, "reply required before receiving next survey")
	}
	if r.fq.Pending() {
		return spserr.ErrRecvInProgress
	}
	if m, deid, ok := r.fq.TryRecv(); ok {
		r.deliverSurvey(m, deid)
	}
	return nil
}

func (r *Respondent) Send(m *msg.Message) error {
	if !r.replyPending {
		return spserr.New(spserr.Other, "no outstanding survey to reply to")
	}
	pipe, ok := r.Pipes[r.replyEID]
	r.replyPending = false
	if !ok {
		return spserr.New(spserr.Other, "originating pipe is gone")
	}
	pipe.Send(m.WithHeader(r.backtrace))
	r.Ctx.Metrics().Sent()
	r.Ctx.CompleteSend(Outcome{Kind: OutSent})
	return nil
}

func (r *Respondent) CancelSend() { r.replyPending = false }
func (r *Respondent) CancelRecv() { r.fq.CancelPending() }
func (r *Respondent) OnTimer(timer.ID) {}
func (r *Respondent) Close()           {}

func (r *Respondent) Readiness() (canSend, canRecv bool) {
	return r.replyPending, !r.replyPending && r.fq.HasBuffered()
}
