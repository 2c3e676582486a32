// Package transport implements spec.md §4.3/§4.4: the pipe and
// acceptor state machines, the handshake, and message framing, over
// net.Conn (tcp, unix). Every blocking Read/Write happens inside a
// dedicated "pump" goroutine (see reactor package doc); the dispatcher
// only ever sees the resulting PipeEvent/AcceptorEvent posted to the
// reactor's event channel, so no I/O call ever runs on the reactor
// goroutine.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/sagernet/sing/common/bufio"

	"github.com/spscale/spscale/internal/reactor"
	"github.com/spscale/spscale/internal/wire"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/spserr"
	"github.com/spscale/spscale/spslog"
)

// State is a pipe's position in spec.md §4.3's state machine.
type State int

const (
	Initial State = iota
	HandshakeTx
	HandshakeRx
	Active
	Dead
)

func (s State) String() string {
	switch s {
	case Initial:
		return "initial"
	case HandshakeTx:
		return "handshake-tx"
	case HandshakeRx:
		return "handshake-rx"
	case Active:
		return "active"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// EventKind enumerates the events a Pipe raises, per spec.md §4.3.
type EventKind int

const (
	EvOpened EventKind = iota
	EvCanSend
	EvCanRecv
	EvSent
	EvReceived
	EvClosed
	EvError
)

// PipeEvent is the payload carried by a reactor.Event whose token kind
// is OwnerEndpoint and which names a pipe (as opposed to an acceptor).
type PipeEvent struct {
	Kind EventKind
	Msg  *msg.Message
	Err  error
}

// Pipe is the runtime object for one peer connection (spec.md §3).
type Pipe struct {
	EID         uint32
	conn        net.Conn
	localProto  uint16
	peerProto   uint16
	recvMaxSize uint64

	react *reactor.Reactor
	token reactor.Token
	log   spslog.Logger

	mu    sync.Mutex
	state State

	sendReq chan *msg.Message
	recvReq chan struct{}
	closeCh chan struct{}
	closeOnce sync.Once
}

// New wraps conn (already connected or accepted) as a pipe in Initial
// state. localProto is this socket's protocol id; the expected peer
// id is derived from it via wire.PeerProtocol.
func New(eid uint32, conn net.Conn, localProto uint16, recvMaxSize uint64, react *reactor.Reactor, log spslog.Logger) *Pipe {
	if log == nil {
		log = spslog.Nop{}
	}
	peerProto, _ := wire.PeerProtocol(localProto)
	return &Pipe{
		EID:         eid,
		conn:        conn,
		localProto:  localProto,
		peerProto:   peerProto,
		recvMaxSize: recvMaxSize,
		react:       react,
		token:       reactor.NewToken(reactor.OwnerEndpoint, eid),
		log:         log,
		state:       Initial,
		sendReq:     make(chan *msg.Message, 1),
		recvReq:     make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
	}
}

func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipe) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipe) post(kind EventKind, m *msg.Message, err error) {
	p.react.Post(reactor.Event{Token: p.token, Payload: &PipeEvent{Kind: kind, Msg: m, Err: err}})
}

// Open starts the handshake. Must be called once, from the
// dispatcher, right after the pipe is registered.
func (p *Pipe) Open() {
	p.setState(HandshakeTx)
	go p.handshakeAndServe()
}

// handshakeAndServe runs the two-directional handshake and, on
// success, the send/recv pump loops — all in one goroutine, since
// net.Conn's Read/Write already resume internally across partial
// writes/reads (unlike the mio-based original, Go's stdlib streams do
// not need a hand-rolled resumable partial-I/O state).
func (p *Pipe) handshakeAndServe() {
	out := wire.BuildHandshake(p.localProto)
	if _, err := p.conn.Write(out[:]); err != nil {
		p.die(err)
		return
	}

	p.setState(HandshakeRx)
	in := make([]byte, wire.HandshakeSize)
	if _, err := io.ReadFull(p.conn, in); err != nil {
		p.die(wrapIOErr(err))
		return
	}
	if err := wire.ParseHandshake(in, p.peerProto); err != nil {
		p.die(spserr.New(spserr.InvalidData, "%v", err))
		return
	}

	p.setState(Active)
	p.post(EvOpened, nil, nil)
	p.post(EvCanSend, nil, nil)
	p.post(EvCanRecv, nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.sendLoop() }()
	go func() { defer wg.Done(); p.recvLoop() }()
	wg.Wait()
}

// Send is called by the dispatcher to begin the one outstanding send
// operation this pipe allows. The caller must not call Send again
// until it observes EvSent, EvClosed, or EvError for this pipe.
func (p *Pipe) Send(m *msg.Message) {
	select {
	case p.sendReq <- m:
	case <-p.closeCh:
	}
}

// RequestRecv starts the one outstanding recv operation this pipe
// allows. The caller must not call RequestRecv again until it observes
// EvReceived, EvClosed, or EvError.
func (p *Pipe) RequestRecv() {
	select {
	case p.recvReq <- struct{}{}:
	case <-p.closeCh:
	}
}

func (p *Pipe) sendLoop() {
	hdr := make([]byte, wire.LengthPrefixSize)
	for {
		select {
		case <-p.closeCh:
			return
		case m := <-p.sendReq:
			wire.PutFrameLength(hdr, uint64(m.Len()))
			ok := p.writeFrame(hdr, m)
			m.Release()
			if !ok {
				return
			}
			p.post(EvSent, nil, nil)
			p.post(EvCanSend, nil, nil)
		}
	}
}

func (p *Pipe) writeFrame(hdr []byte, m *msg.Message) bool {
	if bw, ok := bufio.CreateVectorisedWriter(p.conn); ok {
		vec := [][]byte{hdr, m.Header, m.Body}
		if _, err := bufio.WriteVectorised(bw, vec); err != nil {
			p.die(wrapIOErr(err))
			return false
		}
		return true
	}
	if _, err := p.conn.Write(hdr); err != nil {
		p.die(wrapIOErr(err))
		return false
	}
	if len(m.Header) > 0 {
		if _, err := p.conn.Write(m.Header); err != nil {
			p.die(wrapIOErr(err))
			return false
		}
	}
	if len(m.Body) > 0 {
		if _, err := p.conn.Write(m.Body); err != nil {
			p.die(wrapIOErr(err))
			return false
		}
	}
	return true
}

func (p *Pipe) recvLoop() {
	hdr := make([]byte, wire.LengthPrefixSize)
	for {
		select {
		case <-p.closeCh:
			return
		case <-p.recvReq:
			if _, err := io.ReadFull(p.conn, hdr); err != nil {
				p.die(wrapIOErr(err))
				return
			}
			length := wire.FrameLength(hdr)
			if p.recvMaxSize > 0 && length > p.recvMaxSize {
				p.die(spserr.New(spserr.InvalidData, "frame length %d exceeds recv_max_size %d", length, p.recvMaxSize))
				return
			}
			body := make([]byte, length)
			if length > 0 {
				if _, err := io.ReadFull(p.conn, body); err != nil {
					p.die(wrapIOErr(err))
					return
				}
			}
			p.post(EvReceived, msg.New(body), nil)
		}
	}
}

// Close ends the pipe from the dispatcher side (local close), as
// opposed to die, which reacts to a transport-level failure. Per
// spec.md §9's note, no linger/drain is attempted: any send/recv
// already begun on the underlying conn completes or fails on its own,
// but nothing new is started.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.conn.Close()
		p.setState(Dead)
		p.post(EvClosed, nil, nil)
	})
}

// die transitions to Dead because of a local I/O/framing failure and
// raises the matching error event before Closed, per spec.md §4.3.
func (p *Pipe) die(err error) {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.conn.Close()
		p.setState(Dead)
		p.post(EvError, nil, err)
		p.post(EvClosed, nil, nil)
	})
}

func wrapIOErr(err error) error {
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		// peer closed mid-frame.
		return spserr.New(spserr.InvalidData, "unexpected eof: %v", err)
	case errors.Is(err, io.EOF):
		return spserr.New(spserr.Other, "connection closed by peer")
	default:
		return spserr.New(spserr.Other, "%v", err)
	}
}
