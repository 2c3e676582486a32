package protocol

import (
	"net"
	"testing"

	"github.com/spscale/spscale/internal/reactor"
	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/spslog"
)

type nopHandler struct{}

func (nopHandler) HandleEvent(reactor.Event) {}

// newTestPipe builds a *transport.Pipe over an in-memory net.Pipe,
// without starting its handshake/pump goroutines — enough for
// FairQueue/LoadBalance/Broadcast tests, which only ever call Send and
// RequestRecv (both a single non-blocking channel send against a
// buffer of one).
func newTestPipe(t *testing.T, eid uint32) *transport.Pipe {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	react := reactor.New(nopHandler{}, spslog.Nop{}, 0)
	return transport.New(eid, a, 0, 0, react, spslog.Nop{})
}
