// Package session implements spec.md §5's dispatcher: the single
// reactor.Handler that owns every socket's protocol engine, every
// pipe/acceptor, and the timer service, and is the only place that
// ever mutates any of them — all from the reactor's own goroutine.
// User-facing Socket/Endpoint handles (Socket, Connect, Bind) talk to
// it only by posting command closures and waiting on a reply channel,
// the same pattern the teacher's smux Session uses for its
// writeRequest/recvLoop handoff, generalized from one session to many
// sockets.
package session

import (
	"net"
	"time"

	"github.com/spscale/spscale/internal/protocol"
	"github.com/spscale/spscale/internal/reactor"
	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/options"
	"github.com/spscale/spscale/spserr"
	"github.com/spscale/spscale/spslog"
	"github.com/spscale/spscale/spsmetrics"
)

// reconnectInitial/reconnectMax/reconnectFactor are spec.md §7's
// reconnect backoff curve: 100ms initial, doubling per consecutive
// failure, capped at 60s.
const (
	reconnectInitial = 100 * time.Millisecond
	reconnectMax     = 60 * time.Second
	reconnectFactor  = 2
)

type command func(*Session)

type pendingOp struct {
	reply       chan protocol.Outcome
	hasDeadline bool
	deadline    timer.ID
}

type dialEndpoint struct {
	socketID uint32
	url      string
	failures int
}

// nextBackoff returns the delay before the next reconnect attempt
// given the number of consecutive failures already observed.
func nextBackoff(failures int) time.Duration {
	d := reconnectInitial
	for i := 0; i < failures; i++ {
		d *= reconnectFactor
		if d >= reconnectMax {
			return reconnectMax
		}
	}
	return d
}

// Session is the dispatcher. One Session can host many sockets, each
// independently driven by its own protocol.Engine.
type Session struct {
	react  *reactor.Reactor
	timers *timer.Service
	log    spslog.Logger
	metric *spsmetrics.Set

	nextID uint32

	engines map[uint32]protocol.Engine

	pipes         map[uint32]*transport.Pipe
	pipeOwner     map[uint32]uint32
	pipeDialEID   map[uint32]uint32 // pipe eid -> owning dial endpoint eid, for reconnect
	acceptors     map[uint32]*transport.Acceptor
	acceptorOwner map[uint32]uint32
	dialEndpoints map[uint32]*dialEndpoint

	sendPending map[uint32]*pendingOp
	recvPending map[uint32]*pendingOp

	// timer-id -> socket-id routing tables. A given timer.ID appears in
	// at most one of these at a time.
	sendDeadlines map[timer.ID]uint32
	recvDeadlines map[timer.ID]uint32
	reconnectTmr  map[timer.ID]uint32 // -> dial endpoint eid
	engineTimers  map[timer.ID]uint32 // -> socket id
}

// New builds a Session and starts its reactor and timer service. Run
// must be called (typically in its own goroutine) to start dispatch.
func New(log spslog.Logger, metrics *spsmetrics.Set) *Session {
	if log == nil {
		log = spslog.Nop{}
	}
	s := &Session{
		log:           log,
		metric:        metrics,
		engines:       make(map[uint32]protocol.Engine),
		pipes:         make(map[uint32]*transport.Pipe),
		pipeOwner:     make(map[uint32]uint32),
		pipeDialEID:   make(map[uint32]uint32),
		acceptors:     make(map[uint32]*transport.Acceptor),
		acceptorOwner: make(map[uint32]uint32),
		dialEndpoints: make(map[uint32]*dialEndpoint),
		sendPending:   make(map[uint32]*pendingOp),
		recvPending:   make(map[uint32]*pendingOp),
		sendDeadlines: make(map[timer.ID]uint32),
		recvDeadlines: make(map[timer.ID]uint32),
		reconnectTmr:  make(map[timer.ID]uint32),
		engineTimers:  make(map[timer.ID]uint32),
	}
	s.react = reactor.New(s, log, 0)
	s.timers = timer.New(func(id timer.ID) {
		s.react.Post(reactor.Event{Token: reactor.NewToken(reactor.OwnerTimer, 0), TimerID: uint64(id)})
	}, log)
	return s
}

// Run drives the reactor until Shutdown. Call in its own goroutine.
func (s *Session) Run() { s.react.Run() }

// Shutdown closes every socket (its pipes and acceptors), fails any
// outstanding send/recv with a channel-closed error, then stops the
// reactor and the timer service.
func (s *Session) Shutdown() {
	done := make(chan struct{})
	s.post(func(sess *Session) {
		for id, eng := range sess.engines {
			eng.Close()
			sess.failPending(id, spserr.ErrChannelClosed)
		}
		for _, p := range sess.pipes {
			p.Close()
		}
		for _, a := range sess.acceptors {
			a.Close()
		}
		close(done)
	})
	select {
	case <-done:
	case <-s.react.Done():
	}
	s.react.Shutdown()
	<-s.react.Done()
	s.timers.Shutdown()
}

func (s *Session) post(cmd command) {
	s.react.Post(reactor.Event{Token: reactor.NewToken(reactor.OwnerSessionCmd, 0), Payload: cmd})
}

// HandleEvent implements reactor.Handler.
func (s *Session) HandleEvent(ev reactor.Event) {
	switch ev.Token.Kind() {
	case reactor.OwnerSessionCmd, reactor.OwnerSocketCmd:
		if cmd, ok := ev.Payload.(command); ok {
			cmd(s)
		}
	case reactor.OwnerTimer:
		s.onTimerFired(timer.ID(ev.TimerID))
	case reactor.OwnerEndpoint:
		if pe, ok := ev.Payload.(*transport.PipeEvent); ok {
			s.onPipeEvent(ev.Token.ID(), pe)
		}
	case reactor.OwnerAcceptor:
		if ae, ok := ev.Payload.(*transport.AcceptorEvent); ok {
			s.onAcceptorEvent(ev.Token.ID(), ae)
		}
	}
}

func (s *Session) newID() uint32 {
	s.nextID++
	return s.nextID
}

// --- socket lifecycle ---

// NewSocket registers a fresh engine under a new socket id, built by
// mk (one of protocol.NewPush, NewPull, ...). Safe to call from any
// goroutine.
func (s *Session) NewSocket(mk func(protocol.Context) protocol.Engine) uint32 {
	done := make(chan uint32, 1)
	s.post(func(sess *Session) {
		id := sess.newID()
		sess.engines[id] = mk(&socketContext{sess: sess, id: id})
		done <- id
	})
	return <-done
}

// CloseSocket tears down a socket: every pipe it owns, any acceptor,
// and fails any outstanding send/recv with a channel-closed error.
func (s *Session) CloseSocket(id uint32) {
	done := make(chan struct{})
	s.post(func(sess *Session) {
		if eng, ok := sess.engines[id]; ok {
			eng.Close()
			delete(sess.engines, id)
		}
		for eid, owner := range sess.pipeOwner {
			if owner == id {
				if p, ok := sess.pipes[eid]; ok {
					p.Close()
				}
			}
		}
		for eid, owner := range sess.acceptorOwner {
			if owner == id {
				if a, ok := sess.acceptors[eid]; ok {
					a.Close()
				}
			}
		}
		sess.failPending(id, spserr.ErrChannelClosed)
		close(done)
	})
	<-done
}

func (s *Session) failPending(id uint32, err error) {
	if op, ok := s.sendPending[id]; ok {
		delete(s.sendPending, id)
		if op.hasDeadline {
			s.timers.Cancel(op.deadline)
			delete(s.sendDeadlines, op.deadline)
		}
		op.reply <- protocol.Outcome{Kind: protocol.OutSendFailed, Err: err}
	}
	if op, ok := s.recvPending[id]; ok {
		delete(s.recvPending, id)
		if op.hasDeadline {
			s.timers.Cancel(op.deadline)
			delete(s.recvDeadlines, op.deadline)
		}
		op.reply <- protocol.Outcome{Kind: protocol.OutRecvFailed, Err: err}
	}
}

// --- send / recv ---

// Send posts a send operation for socket id and blocks for its
// outcome.
func (s *Session) Send(id uint32, body []byte) error {
	reply := make(chan protocol.Outcome, 1)
	s.post(func(sess *Session) { sess.doSend(id, body, reply) })
	out := <-reply
	return out.Err
}

// Recv posts a recv operation and blocks for the received body.
func (s *Session) Recv(id uint32) ([]byte, error) {
	reply := make(chan protocol.Outcome, 1)
	s.post(func(sess *Session) { sess.doRecv(id, reply) })
	out := <-reply
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Msg.Body, nil
}

func (s *Session) doSend(id uint32, body []byte, reply chan protocol.Outcome) {
	eng, ok := s.engines[id]
	if !ok {
		reply <- protocol.Outcome{Kind: protocol.OutSendFailed, Err: spserr.ErrNotConnected}
		return
	}
	if _, busy := s.sendPending[id]; busy {
		reply <- protocol.Outcome{Kind: protocol.OutSendFailed, Err: spserr.ErrSendInProgress}
		return
	}
	op := &pendingOp{reply: reply}
	s.sendPending[id] = op
	if d := eng.Options().SendTimeout; d != nil {
		op.hasDeadline = true
		op.deadline = s.timers.Schedule(*d)
		s.sendDeadlines[op.deadline] = id
	}
	if err := eng.Send(msg.New(body)); err != nil {
		// Engine contract: an error return means CompleteSend was not
		// and will not be called for this attempt.
		if op.hasDeadline {
			s.timers.Cancel(op.deadline)
			delete(s.sendDeadlines, op.deadline)
		}
		delete(s.sendPending, id)
		reply <- protocol.Outcome{Kind: protocol.OutSendFailed, Err: err}
	}
}

func (s *Session) doRecv(id uint32, reply chan protocol.Outcome) {
	eng, ok := s.engines[id]
	if !ok {
		reply <- protocol.Outcome{Kind: protocol.OutRecvFailed, Err: spserr.ErrNotConnected}
		return
	}
	if _, busy := s.recvPending[id]; busy {
		reply <- protocol.Outcome{Kind: protocol.OutRecvFailed, Err: spserr.ErrRecvInProgress}
		return
	}
	op := &pendingOp{reply: reply}
	s.recvPending[id] = op
	if d := eng.Options().RecvTimeout; d != nil {
		op.hasDeadline = true
		op.deadline = s.timers.Schedule(*d)
		s.recvDeadlines[op.deadline] = id
	}
	if err := eng.Recv(); err != nil {
		if op.hasDeadline {
			s.timers.Cancel(op.deadline)
			delete(s.recvDeadlines, op.deadline)
		}
		delete(s.recvPending, id)
		reply <- protocol.Outcome{Kind: protocol.OutRecvFailed, Err: err}
	}
}

// Subscribe adds a subscription prefix to a Sub socket.
func (s *Session) Subscribe(id uint32, prefix []byte) error {
	reply := make(chan error, 1)
	s.post(func(sess *Session) {
		eng, ok := sess.engines[id]
		if !ok {
			reply <- spserr.ErrNotConnected
			return
		}
		sub, ok := eng.(*protocol.Sub)
		if !ok {
			reply <- spserr.New(spserr.Other, "socket is not a sub socket")
			return
		}
		sub.Subscribe(prefix)
		reply <- nil
	})
	return <-reply
}

// Unsubscribe removes a previously added prefix from a Sub socket.
func (s *Session) Unsubscribe(id uint32, prefix []byte) error {
	reply := make(chan error, 1)
	s.post(func(sess *Session) {
		eng, ok := sess.engines[id]
		if !ok {
			reply <- spserr.ErrNotConnected
			return
		}
		sub, ok := eng.(*protocol.Sub)
		if !ok {
			reply <- spserr.New(spserr.Other, "socket is not a sub socket")
			return
		}
		sub.Unsubscribe(prefix)
		reply <- nil
	})
	return <-reply
}

// Readiness posts a non-destructive (can_send, can_recv) snapshot
// query for socket id, per spec.md §4.6's Probe. It never consumes a
// message or parks an operation.
func (s *Session) Readiness(id uint32) (canSend, canRecv bool, err error) {
	type result struct {
		canSend, canRecv bool
		err              error
	}
	reply := make(chan result, 1)
	s.post(func(sess *Session) {
		eng, ok := sess.engines[id]
		if !ok {
			reply <- result{err: spserr.ErrNotConnected}
			return
		}
		cs, cr := eng.Readiness()
		reply <- result{canSend: cs, canRecv: cr}
	})
	r := <-reply
	return r.canSend, r.canRecv, r.err
}

// SetOption posts an option change for socket id.
func (s *Session) SetOption(id uint32, opt options.Option) error {
	reply := make(chan error, 1)
	s.post(func(sess *Session) {
		eng, ok := sess.engines[id]
		if !ok {
			reply <- spserr.ErrNotConnected
			return
		}
		reply <- eng.SetOption(opt)
	})
	return <-reply
}

// --- timers ---

func (s *Session) onTimerFired(id timer.ID) {
	if sockID, ok := s.sendDeadlines[id]; ok {
		delete(s.sendDeadlines, id)
		s.onSendTimeout(sockID, id)
		return
	}
	if sockID, ok := s.recvDeadlines[id]; ok {
		delete(s.recvDeadlines, id)
		s.onRecvTimeout(sockID, id)
		return
	}
	if eid, ok := s.reconnectTmr[id]; ok {
		delete(s.reconnectTmr, id)
		s.metric.Reconnect()
		s.redial(eid)
		return
	}
	if sockID, ok := s.engineTimers[id]; ok {
		delete(s.engineTimers, id)
		if eng, ok := s.engines[sockID]; ok {
			eng.OnTimer(id)
		}
	}
}

func (s *Session) onSendTimeout(id uint32, tid timer.ID) {
	op, ok := s.sendPending[id]
	if !ok || !op.hasDeadline || op.deadline != tid {
		return
	}
	delete(s.sendPending, id)
	if eng, ok := s.engines[id]; ok {
		eng.CancelSend()
	}
	op.reply <- protocol.Outcome{Kind: protocol.OutSendFailed, Err: spserr.ErrTimedOut}
}

func (s *Session) onRecvTimeout(id uint32, tid timer.ID) {
	op, ok := s.recvPending[id]
	if !ok || !op.hasDeadline || op.deadline != tid {
		return
	}
	delete(s.recvPending, id)
	if eng, ok := s.engines[id]; ok {
		eng.CancelRecv()
	}
	op.reply <- protocol.Outcome{Kind: protocol.OutRecvFailed, Err: spserr.ErrTimedOut}
}

// --- pipe / acceptor plumbing ---

func (s *Session) onPipeEvent(eid uint32, pe *transport.PipeEvent) {
	sockID, ok := s.pipeOwner[eid]
	if !ok {
		return
	}
	eng, ok := s.engines[sockID]
	if !ok {
		return
	}
	switch pe.Kind {
	case transport.EvOpened:
		s.metric.PipeOpened()
		if deid, ok := s.pipeDialEID[eid]; ok {
			if de, ok := s.dialEndpoints[deid]; ok {
				de.failures = 0
			}
		}
	case transport.EvClosed:
		s.metric.PipeClosed()
		delete(s.pipes, eid)
		delete(s.pipeOwner, eid)
		if deid, ok := s.pipeDialEID[eid]; ok {
			delete(s.pipeDialEID, eid)
			s.scheduleReconnect(deid)
		}
	}
	eng.OnPipeEvent(eid, *pe)
}

func (s *Session) onAcceptorEvent(eid uint32, ae *transport.AcceptorEvent) {
	sockID, ok := s.acceptorOwner[eid]
	if !ok {
		return
	}
	eng, ok := s.engines[sockID]
	if !ok {
		return
	}
	switch ae.Kind {
	case transport.AcceptorAccepted:
		for _, conn := range ae.Conns {
			s.adoptConn(sockID, eng, conn, 0)
		}
	case transport.AcceptorClosed:
		delete(s.acceptors, eid)
		delete(s.acceptorOwner, eid)
	}
}

func (s *Session) adoptConn(sockID uint32, eng protocol.Engine, conn net.Conn, dialEID uint32) {
	opts := eng.Options()
	transport.ApplyTCPNoDelay(conn, opts.TCPNoDelay)
	eid := s.newID()
	pipe := transport.New(eid, conn, eng.ProtoID(), opts.RecvMaxSize, s.react, s.log)
	if err := eng.AddPipe(eid, pipe); err != nil {
		pipe.Close()
		return
	}
	s.pipes[eid] = pipe
	s.pipeOwner[eid] = sockID
	if dialEID != 0 {
		s.pipeDialEID[eid] = dialEID
	}
	pipe.Open()
}

// Connect registers a dial endpoint for socket id and starts the first
// connection attempt. Reconnection on failure is automatic.
func (s *Session) Connect(id uint32, url string) error {
	reply := make(chan error, 1)
	s.post(func(sess *Session) {
		if _, ok := sess.engines[id]; !ok {
			reply <- spserr.ErrNotConnected
			return
		}
		eid := sess.newID()
		sess.dialEndpoints[eid] = &dialEndpoint{socketID: id, url: url}
		reply <- nil
		sess.redial(eid)
	})
	return <-reply
}

func (s *Session) redial(eid uint32) {
	de, ok := s.dialEndpoints[eid]
	if !ok {
		return
	}
	eng, ok := s.engines[de.socketID]
	if !ok {
		return
	}
	conn, err := transport.Dial(de.url)
	if err != nil {
		delay := nextBackoff(de.failures)
		de.failures++
		s.log.Warnf("dial %s failed (attempt %d, retrying in %s): %v", de.url, de.failures, delay, err)
		id := s.timers.Schedule(delay)
		s.reconnectTmr[id] = eid
		return
	}
	s.adoptConn(de.socketID, eng, conn, eid)
}

func (s *Session) scheduleReconnect(eid uint32) {
	de, ok := s.dialEndpoints[eid]
	if !ok {
		return
	}
	delay := nextBackoff(de.failures)
	de.failures++
	id := s.timers.Schedule(delay)
	s.reconnectTmr[id] = eid
}

// Bind registers an acceptor for socket id, listening on url.
func (s *Session) Bind(id uint32, url string) error {
	reply := make(chan error, 1)
	s.post(func(sess *Session) {
		if _, ok := sess.engines[id]; !ok {
			reply <- spserr.ErrNotConnected
			return
		}
		l, err := transport.Listen(url)
		if err != nil {
			reply <- err
			return
		}
		eid := sess.newID()
		a := transport.NewAcceptor(eid, l, sess.react, sess.log)
		sess.acceptors[eid] = a
		sess.acceptorOwner[eid] = id
		a.Open()
		reply <- nil
	})
	return <-reply
}

// engineSchedule/engineCancel are invoked only by
// socketContext, always from the reactor goroutine.
func (s *Session) engineSchedule(id uint32, d time.Duration) timer.ID {
	tid := s.timers.Schedule(d)
	s.engineTimers[tid] = id
	return tid
}

func (s *Session) engineCancel(tid timer.ID) {
	s.timers.Cancel(tid)
	delete(s.engineTimers, tid)
}

func (s *Session) completeSend(id uint32, o protocol.Outcome) {
	op, ok := s.sendPending[id]
	if !ok {
		return
	}
	delete(s.sendPending, id)
	if op.hasDeadline {
		s.timers.Cancel(op.deadline)
		delete(s.sendDeadlines, op.deadline)
	}
	op.reply <- o
}

func (s *Session) completeRecv(id uint32, o protocol.Outcome) {
	op, ok := s.recvPending[id]
	if !ok {
		return
	}
	delete(s.recvPending, id)
	if op.hasDeadline {
		s.timers.Cancel(op.deadline)
		delete(s.recvDeadlines, op.deadline)
	}
	op.reply <- o
}
