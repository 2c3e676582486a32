package protocol

import (
	"time"

	"github.com/spscale/spscale/internal/timer"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
	"github.com/spscale/spscale/options"
	"github.com/spscale/spscale/spslog"
	"github.com/spscale/spscale/spsmetrics"
)

// OutcomeKind enumerates the user-visible results a dispatcher
// delivers to a socket's reply channel, per spec.md §4.5.
type OutcomeKind int

const (
	OutSent OutcomeKind = iota
	OutReceived
	OutSendFailed
	OutRecvFailed
	OutOptionSet
	OutOptionGot
)

// Outcome is the single reply value an Engine hands back to its
// Context once a Send or Recv resolves (immediately or later, driven
// by a subsequent OnPipeEvent/OnTimer call).
type Outcome struct {
	Kind  OutcomeKind
	Msg   *msg.Message
	Value interface{}
	Err   error
}

// Context is the callback surface an Engine uses to talk back to its
// owning socket without holding a reference to the dispatcher itself
// (spec.md §9's "Context reference" pattern, generalized from pipes to
// protocol engines).
type Context interface {
	// Schedule/Cancel expose the timer service for resend/survey
	// deadlines. Engine-owned, distinct from the dispatcher's own
	// per-operation deadline timers.
	Schedule(d time.Duration) timer.ID
	Cancel(id timer.ID)

	// CompleteSend/CompleteRecv deliver the resolved outcome of the
	// single outstanding send/recv. Calling either when no operation
	// is outstanding is a no-op (the dispatcher's own deadline timer
	// may race a just-completed operation).
	CompleteSend(Outcome)
	CompleteRecv(Outcome)

	Log() spslog.Logger
	Metrics() *spsmetrics.Set
}

// Engine is the interface every scalability-protocol implementation
// exposes to the dispatcher, per spec.md §4.5.
type Engine interface {
	ProtoID() uint16

	AddPipe(eid uint32, pipe *transport.Pipe) error
	RemovePipe(eid uint32) bool

	OnPipeEvent(eid uint32, evt transport.PipeEvent)

	// Send/Recv begin the socket's single outstanding send/recv
	// operation. A non-nil error is an immediate, synchronous
	// rejection (e.g. "Send already in progress", "unsupported by
	// protocol"); otherwise the outcome arrives later via
	// ctx.CompleteSend/CompleteRecv (possibly before Send/Recv even
	// returns, for an immediately satisfiable operation).
	Send(m *msg.Message) error
	Recv() error

	// CancelSend/CancelRecv are invoked by the dispatcher when its own
	// deadline timer fires before the engine completed the operation;
	// they must clear any parked message/pipe association so a late
	// completion cannot surface after the TimedOut reply.
	CancelSend()
	CancelRecv()

	OnTimer(id timer.ID)

	// Readiness reports a non-destructive (can_send, can_recv) snapshot
	// per spec.md §4.6's Probe/Device poll mechanism: whether Send/Recv
	// would currently make progress, without consuming a message or
	// parking an operation. It must never have a side effect.
	Readiness() (canSend, canRecv bool)

	SetOption(opt options.Option) error
	Options() options.OptionSet

	// Close drops any engine-held send/recv state. It does not reply to
	// a pending operation; the dispatcher fails that with a
	// channel-closed error after calling Close.
	Close()
}

// Base holds the fields common to every Engine implementation
// (spec.md §3's "Common" protocol state), embedded by each concrete
// engine to avoid repeating pipe bookkeeping in ten places.
type Base struct {
	Pipes map[uint32]*transport.Pipe
	Opts  options.OptionSet
	Ctx   Context
}

func NewBase(ctx Context) Base {
	return Base{Pipes: make(map[uint32]*transport.Pipe), Opts: options.Default(), Ctx: ctx}
}

func (b *Base) addPipe(eid uint32, p *transport.Pipe) {
	b.Pipes[eid] = p
}

func (b *Base) removePipe(eid uint32) bool {
	_, ok := b.Pipes[eid]
	delete(b.Pipes, eid)
	return ok
}

func (b *Base) SetOption(opt options.Option) error {
	return options.Apply(&b.Opts, opt)
}

func (b *Base) Options() options.OptionSet { return b.Opts }
