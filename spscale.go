// Package spscale implements the scalability-protocols messaging
// patterns (pair, publish/subscribe, request/reply, pipeline, survey,
// bus) described in spec.md, over TCP and Unix-domain byte-stream
// transports. A Session owns every Socket's reactor, timers, and
// pipes; Socket is the user-facing handle for one protocol instance.
package spscale

import (
	"time"

	"github.com/spscale/spscale/internal/protocol"
	"github.com/spscale/spscale/internal/session"
	"github.com/spscale/spscale/options"
	"github.com/spscale/spscale/spslog"
	"github.com/spscale/spscale/spsmetrics"
)

// Session is the library's top-level handle: one reactor, one timer
// service, any number of Sockets. Call NewSession once per process (or
// per isolated test); it starts the reactor goroutine itself. Shutdown
// it when done.
type Session struct {
	inner *session.Session
}

// Config carries the ambient collaborators a Session is built with.
// A zero Config is valid: logging is discarded and metrics are not
// registered.
type Config struct {
	Log      spslog.Logger
	Metrics  *spsmetrics.Set
}

// NewSession builds and starts a Session's reactor goroutine.
func NewSession(cfg Config) *Session {
	s := session.New(cfg.Log, cfg.Metrics)
	go s.Run()
	return &Session{inner: s}
}

// Shutdown stops the reactor and releases every socket's resources.
func (s *Session) Shutdown() { s.inner.Shutdown() }

// Socket is a handle to one protocol instance within a Session.
type Socket struct {
	sess *session.Session
	id   uint32
}

func newSocket(sess *session.Session, mk func(protocol.Context) protocol.Engine) *Socket {
	return &Socket{sess: sess, id: sess.NewSocket(mk)}
}

// NewPair opens a Pair socket (spec.md §4.5.5): exclusive one-to-one.
func (s *Session) NewPair() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewPair(c) }) }

// NewPub opens a Pub socket (spec.md §4.5.2).
func (s *Session) NewPub() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewPub(c) }) }

// NewSub opens a Sub socket (spec.md §4.5.2).
func (s *Session) NewSub() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewSub(c) }) }

// NewReq opens a Req socket (spec.md §4.5.3).
func (s *Session) NewReq() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewReq(c) }) }

// NewRep opens a Rep socket (spec.md §4.5.3).
func (s *Session) NewRep() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewRep(c) }) }

// NewPush opens a Push socket (spec.md §4.5.1).
func (s *Session) NewPush() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewPush(c) }) }

// NewPull opens a Pull socket (spec.md §4.5.1).
func (s *Session) NewPull() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewPull(c) }) }

// NewSurveyor opens a Surveyor socket (spec.md §4.5.4).
func (s *Session) NewSurveyor() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewSurveyor(c) }) }

// NewRespondent opens a Respondent socket (spec.md §4.5.4).
func (s *Session) NewRespondent() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewRespondent(c) }) }

// NewBus opens a Bus socket (spec.md §4.5.6).
func (s *Session) NewBus() *Socket { return newSocket(s.inner, func(c protocol.Context) protocol.Engine { return protocol.NewBus(c) }) }

// Connect dials url ("tcp://host:port" or "ipc:///path") and keeps the
// connection alive, automatically redialing on failure.
func (s *Socket) Connect(url string) error { return s.sess.Connect(s.id, url) }

// Bind listens on url, accepting any number of peers.
func (s *Socket) Bind(url string) error { return s.sess.Bind(s.id, url) }

// Send blocks until m is accepted by the protocol engine (not
// necessarily until a peer has read it — see each pattern's delivery
// guarantee in spec.md §4.5).
func (s *Socket) Send(body []byte) error { return s.sess.Send(s.id, body) }

// Recv blocks until a message is available.
func (s *Socket) Recv() ([]byte, error) { return s.sess.Recv(s.id) }

// Subscribe adds a subscription prefix; valid only on a Sub socket. An
// empty subscription set (the default) matches every message.
func (s *Socket) Subscribe(prefix []byte) error { return s.sess.Subscribe(s.id, prefix) }

// Unsubscribe removes a previously added prefix; valid only on a Sub
// socket.
func (s *Socket) Unsubscribe(prefix []byte) error { return s.sess.Unsubscribe(s.id, prefix) }

// SetOption applies opt (see the options package) to this socket.
func (s *Socket) SetOption(opt options.Option) error { return s.sess.SetOption(s.id, opt) }

// Close releases this socket's pipes and acceptors and fails any
// outstanding Send/Recv with a channel-closed error.
func (s *Socket) Close() { s.sess.CloseSocket(s.id) }

// WithSendTimeout is a convenience equivalent to
// s.SetOption(options.WithSendTimeout(d)).
func (s *Socket) WithSendTimeout(d time.Duration) error { return s.SetOption(options.WithSendTimeout(d)) }

// WithRecvTimeout is a convenience equivalent to
// s.SetOption(options.WithRecvTimeout(d)).
func (s *Socket) WithRecvTimeout(d time.Duration) error { return s.SetOption(options.WithRecvTimeout(d)) }

// Readiness reports a non-destructive (can_send, can_recv) snapshot,
// per spec.md §4.6: whether Send/Recv would currently make progress,
// without consuming a message or changing socket state. Used by Probe
// to poll a set of sockets without racing their own Send/Recv calls.
func (s *Socket) Readiness() (canSend, canRecv bool, err error) { return s.sess.Readiness(s.id) }
