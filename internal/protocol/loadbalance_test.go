package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
)

func TestLoadBalanceParksWhenNoPipeReady(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	lb := NewLoadBalance(pipes)
	lb.AddPipe(1, 8)

	dispatched := lb.TrySend(msg.New([]byte("hi")))
	require.False(t, dispatched, "no pipe is active yet, so the message must park")
	require.True(t, lb.Pending())
	require.False(t, lb.InFlight())
}

func TestLoadBalanceActivateDispatchesParkedMessage(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	lb := NewLoadBalance(pipes)
	lb.AddPipe(1, 8)
	lb.TrySend(msg.New([]byte("hi")))

	lb.Activate(1)
	require.True(t, lb.InFlight())
	require.True(t, lb.Pending())
}

func TestLoadBalanceOnSentClearsInFlightOnlyForOwner(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1), 2: newTestPipe(t, 2)}
	lb := NewLoadBalance(pipes)
	lb.AddPipe(1, 8)
	lb.AddPipe(2, 8)
	lb.Activate(1)
	lb.TrySend(msg.New([]byte("hi")))

	require.False(t, lb.OnSent(2), "pipe 2 never carried the in-flight message")
	require.True(t, lb.InFlight())
	require.True(t, lb.OnSent(1))
	require.False(t, lb.InFlight())
	require.False(t, lb.Pending())
}

func TestLoadBalanceRemovePipeReturnsInFlightMessage(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	lb := NewLoadBalance(pipes)
	lb.AddPipe(1, 8)
	lb.Activate(1)
	m := msg.New([]byte("hi"))
	lb.TrySend(m)

	requeued := lb.RemovePipe(1)
	require.NotNil(t, requeued, "the in-flight message must be handed back for requeue")
	require.False(t, lb.InFlight())
}
