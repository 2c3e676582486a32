package spscale

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ipcURL(t *testing.T) string {
	t.Helper()
	return "ipc://" + filepath.Join(t.TempDir(), "sock")
}

func TestProbeReportsCanRecvWithoutConsuming(t *testing.T) {
	sess := NewSession(Config{})
	t.Cleanup(sess.Shutdown)
	url := ipcURL(t)

	pull := sess.NewPull()
	require.NoError(t, pull.Bind(url))
	push := sess.NewPush()
	require.NoError(t, push.Connect(url))

	require.Eventually(t, func() bool {
		return push.Send([]byte("hello")) == nil
	}, time.Second, 5*time.Millisecond)

	probe := NewProbe(pull)
	var snaps []Snapshot
	require.Eventually(t, func() bool {
		var err error
		snaps, err = probe.Poll(time.Second)
		require.NoError(t, err)
		return len(snaps) == 1 && snaps[0].CanRecv
	}, time.Second, 5*time.Millisecond)

	require.True(t, snaps[0].CanRecv)
	require.False(t, snaps[0].CanSend, "pull sockets never report can_send")

	// Poll must not have consumed the buffered message.
	body, err := pull.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)
}

func TestProbeReportsCanSend(t *testing.T) {
	sess := NewSession(Config{})
	t.Cleanup(sess.Shutdown)
	url := ipcURL(t)

	pull := sess.NewPull()
	require.NoError(t, pull.Bind(url))
	push := sess.NewPush()
	require.NoError(t, push.Connect(url))

	probe := NewProbe(push)
	var snaps []Snapshot
	require.Eventually(t, func() bool {
		var err error
		snaps, err = probe.Poll(time.Second)
		require.NoError(t, err)
		return len(snaps) == 1 && snaps[0].CanSend
	}, time.Second, 5*time.Millisecond)

	require.True(t, snaps[0].CanSend)
	require.False(t, snaps[0].CanRecv, "push sockets never report can_recv")
}

func TestProbePollTimesOutWhenNothingReady(t *testing.T) {
	sess := NewSession(Config{})
	t.Cleanup(sess.Shutdown)

	pull := sess.NewPull()
	probe := NewProbe(pull)

	start := time.Now()
	snaps, err := probe.Poll(30 * time.Millisecond)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.False(t, snaps[0].CanSend)
	require.False(t, snaps[0].CanRecv)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
