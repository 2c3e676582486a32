package transport

import (
	"net"
	"sync"

	"github.com/spscale/spscale/internal/reactor"
	"github.com/spscale/spscale/spslog"
)

// AcceptorEventKind enumerates the events an Acceptor raises, per
// spec.md §4.4.
type AcceptorEventKind int

const (
	AcceptorOpened AcceptorEventKind = iota
	AcceptorAccepted
	AcceptorClosed
	AcceptorError
)

// AcceptorEvent is the payload carried by a reactor.Event whose token
// kind is OwnerAcceptor.
type AcceptorEvent struct {
	Kind  AcceptorEventKind
	Conns []net.Conn
	Err   error
}

// Acceptor is the passive endpoint counterpart to Pipe (spec.md §4.4).
// Accept loops on its own goroutine (the listener's accept pump) and
// posts every accepted connection as its own one-element
// AcceptorAccepted batch; see acceptLoop.
type Acceptor struct {
	EID      uint32
	listener net.Listener

	react *reactor.Reactor
	token reactor.Token
	log   spslog.Logger

	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewAcceptor(eid uint32, l net.Listener, react *reactor.Reactor, log spslog.Logger) *Acceptor {
	if log == nil {
		log = spslog.Nop{}
	}
	return &Acceptor{
		EID:      eid,
		listener: l,
		react:    react,
		token:    reactor.NewToken(reactor.OwnerAcceptor, eid),
		log:      log,
		closeCh:  make(chan struct{}),
	}
}

func (a *Acceptor) post(kind AcceptorEventKind, conns []net.Conn, err error) {
	a.react.Post(reactor.Event{Token: a.token, Payload: &AcceptorEvent{Kind: kind, Conns: conns, Err: err}})
}

// Open starts the accept pump. Call once after registering the
// acceptor with the dispatcher.
func (a *Acceptor) Open() {
	a.post(AcceptorOpened, nil, nil)
	go a.acceptLoop()
}

// acceptLoop blocks on Accept and posts each successful connection as
// its own single-element AcceptorAccepted batch. spec.md's "loop
// accept until WouldBlock, emit Accepted(vec)" describes draining an
// edge-triggered readiness notification; net.Listener.Accept has no
// non-blocking peek to drive the same drain-to-WouldBlock loop, so
// each accepted conn is dispatched as soon as it arrives instead of
// being batched — the dispatcher treats a batch of one exactly like
// a batch of many.
func (a *Acceptor) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.closeCh:
				return
			default:
			}
			a.die(err)
			return
		}
		a.post(AcceptorAccepted, []net.Conn{conn}, nil)
	}
}

// Close ends the acceptor from the dispatcher side.
func (a *Acceptor) Close() {
	a.closeOnce.Do(func() {
		close(a.closeCh)
		a.listener.Close()
		a.post(AcceptorClosed, nil, nil)
	})
}

func (a *Acceptor) die(err error) {
	a.closeOnce.Do(func() {
		close(a.closeCh)
		a.listener.Close()
		a.post(AcceptorError, nil, err)
		a.post(AcceptorClosed, nil, nil)
	})
}
