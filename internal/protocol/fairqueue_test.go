package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spscale/spscale/internal/transport"
	"github.com/spscale/spscale/msg"
)

func TestFairQueueBuffersUntilRecv(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	fq := NewFairQueue(pipes, nil)
	fq.AddPipe(1, 8)

	delivered, _, ok := fq.OnReceived(1, msg.New([]byte("a")))
	require.False(t, ok, "no recv is parked, so the message must buffer instead of delivering directly")
	require.Nil(t, delivered)

	m, eid, ok := fq.TryRecv()
	require.True(t, ok)
	require.Equal(t, uint32(1), eid)
	require.Equal(t, []byte("a"), m.Body)
}

func TestFairQueueDeliversDirectlyWhenRecvIsParked(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	fq := NewFairQueue(pipes, nil)
	fq.AddPipe(1, 8)

	_, _, ok := fq.TryRecv()
	require.False(t, ok)
	require.True(t, fq.Pending())

	delivered, eid, ok := fq.OnReceived(1, msg.New([]byte("b")))
	require.True(t, ok)
	require.Equal(t, uint32(1), eid)
	require.Equal(t, []byte("b"), delivered.Body)
	require.False(t, fq.Pending())
}

func TestFairQueueAcceptCanReject(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	reject := func(uint32, *msg.Message) (*msg.Message, bool) { return nil, false }
	fq := NewFairQueue(pipes, reject)
	fq.AddPipe(1, 8)

	_, _, ok := fq.OnReceived(1, msg.New([]byte("c")))
	require.False(t, ok)
	_, _, ok = fq.TryRecv()
	require.False(t, ok, "a rejected message must never surface from TryRecv")
}

func TestFairQueueRemovePipeDropsBufferedMessage(t *testing.T) {
	pipes := map[uint32]*transport.Pipe{1: newTestPipe(t, 1)}
	fq := NewFairQueue(pipes, nil)
	fq.AddPipe(1, 8)
	fq.OnReceived(1, msg.New([]byte("d")))

	hadBuf := fq.RemovePipe(1)
	require.True(t, hadBuf)
}
