package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
)

func TestBroadcastOnlySendsToReadyPipes(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{
		1: newTestPipe(t, 1),
		2: newTestPipe(t, 2),
	}
	bc := NewBroadcast(pipes)
	bc.AddPipe(1)
	bc.AddPipe(2)
	bc.Activate(1) // pipe 2 never becomes ready

	n := bc.SendAll(msg.New([]byte("hi")))
	require.Equal(t, 1, n, "only the ready pipe should receive the broadcast")
}

func TestBroadcastSendAllExceptSkipsOrigin(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{
		1: newTestPipe(t, 1),
		2: newTestPipe(t, 2),
	}
	bc := NewBroadcast(pipes)
	bc.AddPipe(1)
	bc.AddPipe(2)
	bc.Activate(1)
	bc.Activate(2)

	n := bc.SendAllExcept(msg.New([]byte("hi")), 1)
	require.Equal(t, 1, n, "the excluded pipe must not receive its own relay")
}

func TestBroadcastLossyWhenNothingReady(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	bc := NewBroadcast(pipes)
	bc.AddPipe(1)

	n := bc.SendAll(msg.New([]byte("hi")))
	require.Zero(t, n)
}
