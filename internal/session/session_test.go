package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spscale/spscale/internal/protocol"
	"github.com/spscale/spscale/options"
	"github.com/spscale/spscale/spserr"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s := New(nil, nil)
	go s.Run()
	t.Cleanup(s.Shutdown)
	return s
}

func ipcURL(t *testing.T) string {
	t.Helper()
	return "ipc://" + filepath.Join(t.TempDir(), "sock")
}

func TestPushPullRoundTrip(t *testing.T) {
	sess := newTestSession(t)
	url := ipcURL(t)

	pull := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPull(ctx) })
	require.NoError(t, sess.Bind(pull, url))

	push := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPush(ctx) })
	require.NoError(t, sess.Connect(push, url))

	require.Eventually(t, func() bool {
		return sess.Send(push, []byte("hello")) == nil
	}, time.Second, 5*time.Millisecond, "push send never succeeded once the pipe came up")

	body, err := sess.Recv(pull)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)
}

func TestReqRepRoundTrip(t *testing.T) {
	sess := newTestSession(t)
	url := ipcURL(t)

	rep := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewRep(ctx) })
	require.NoError(t, sess.Bind(rep, url))

	req := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewReq(ctx) })
	require.NoError(t, sess.Connect(req, url))

	require.Eventually(t, func() bool {
		return sess.Send(req, []byte("ping")) == nil
	}, time.Second, 5*time.Millisecond)

	body, err := sess.Recv(rep)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), body)

	require.NoError(t, sess.Send(rep, []byte("pong")))

	reply, err := sess.Recv(req)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), reply)
}

func TestPubSubFiltersBySubscription(t *testing.T) {
	sess := newTestSession(t)
	url := ipcURL(t)

	pub := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPub(ctx) })
	require.NoError(t, sess.Bind(pub, url))

	sub := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewSub(ctx) })
	require.NoError(t, sess.Connect(sub, url))
	require.NoError(t, sess.Subscribe(sub, []byte("topic-a")))

	// Pub sends are lossy and always succeed, so wait until the pipe to
	// the subscriber can take a message before each send.
	pubReady := func() bool {
		canSend, _, err := sess.Readiness(pub)
		return err == nil && canSend
	}
	require.Eventually(t, pubReady, time.Second, 5*time.Millisecond)
	require.NoError(t, sess.Send(pub, []byte("topic-b: ignored")))
	require.Eventually(t, pubReady, time.Second, 5*time.Millisecond)
	require.NoError(t, sess.Send(pub, []byte("topic-a: delivered")))

	body, err := sess.Recv(sub)
	require.NoError(t, err)
	require.Equal(t, []byte("topic-a: delivered"), body, "the unsubscribed topic must never surface before the subscribed one")
}

func TestRecvTimeoutReturnsTimedOut(t *testing.T) {
	sess := newTestSession(t)
	pull := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPull(ctx) })
	require.NoError(t, sess.SetOption(pull, options.WithRecvTimeout(20*time.Millisecond)))

	_, err := sess.Recv(pull)
	require.Error(t, err)
	require.True(t, spserr.Is(err, spserr.TimedOut))
}

func TestSecondSendWhileInProgressIsRejected(t *testing.T) {
	sess := newTestSession(t)
	push := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPush(ctx) })

	// no pipe is connected, so the first send parks indefinitely.
	done := make(chan error, 1)
	go func() { done <- sess.Send(push, []byte("one")) }()

	require.Eventually(t, func() bool {
		err := sess.Send(push, []byte("two"))
		return err != nil && spserr.Is(err, spserr.Other)
	}, time.Second, 5*time.Millisecond, "a second concurrent send must be rejected while the first is outstanding")
}

func TestSetOptionRejectsInvalidPriority(t *testing.T) {
	sess := newTestSession(t)
	push := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPush(ctx) })

	err := sess.SetOption(push, options.WithSendPriority(99))
	require.Error(t, err)
	require.True(t, spserr.Is(err, spserr.InvalidInput))
}

func TestCloseSocketFailsOutstandingRecv(t *testing.T) {
	sess := newTestSession(t)
	pull := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewPull(ctx) })

	done := make(chan error, 1)
	go func() {
		_, err := sess.Recv(pull)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the recv register as pending
	sess.CloseSocket(pull)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("CloseSocket never unblocked the outstanding recv")
	}
}

func TestSurveyorRespondentRoundTrip(t *testing.T) {
	sess := newTestSession(t)
	url := ipcURL(t)

	surveyor := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewSurveyor(ctx) })
	require.NoError(t, sess.Bind(surveyor, url))

	respondent := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewRespondent(ctx) })
	require.NoError(t, sess.Connect(respondent, url))

	// Surveyor sends always succeed, reaching only pipes ready at that
	// moment, so wait for the pipe to the respondent first.
	require.Eventually(t, func() bool {
		canSend, _, err := sess.Readiness(surveyor)
		return err == nil && canSend
	}, time.Second, 5*time.Millisecond, "surveyor's pipe to the respondent never became ready")
	require.NoError(t, sess.Send(surveyor, []byte("vote?")))

	question, err := sess.Recv(respondent)
	require.NoError(t, err)
	require.Equal(t, []byte("vote?"), question)

	require.NoError(t, sess.Send(respondent, []byte("yes")))

	answer, err := sess.Recv(surveyor)
	require.NoError(t, err)
	require.Equal(t, []byte("yes"), answer)
}

func TestSurveyorRecvFailsDistinctlyWhenDeadlineExpires(t *testing.T) {
	sess := newTestSession(t)
	surveyor := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewSurveyor(ctx) })
	require.NoError(t, sess.SetOption(surveyor, options.WithSurveyDeadline(20*time.Millisecond)))

	// no respondent ever connects, so the broadcast reaches nobody and
	// the survey's own deadline, not the recv's, must fire first.
	require.NoError(t, sess.Send(surveyor, []byte("vote?")))

	_, err := sess.Recv(surveyor)
	require.Error(t, err)
	require.True(t, spserr.Is(err, spserr.Other))
	require.False(t, spserr.Is(err, spserr.TimedOut), "a survey deadline must not be reported as the generic recv TimedOut kind")
	require.ErrorIs(t, err, spserr.ErrSurveyDeadline)
}

// TestBusRelaysToThirdNode is spec.md §8 scenario 5: N0 recvs a message
// from N1 and relays it to every other connected pipe, so N2 (which
// never talked to N1 directly) still receives it.
func TestBusRelaysToThirdNode(t *testing.T) {
	sess := newTestSession(t)
	url := ipcURL(t)

	n0 := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewBus(ctx) })
	require.NoError(t, sess.Bind(n0, url))

	n1 := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewBus(ctx) })
	require.NoError(t, sess.Connect(n1, url))

	n2 := sess.NewSocket(func(ctx protocol.Context) protocol.Engine { return protocol.NewBus(ctx) })
	require.NoError(t, sess.Connect(n2, url))

	// Bus sends are lossy and always succeed, so wait until both
	// connected nodes' pipes to n0 can take a message.
	busReady := func(id uint32) func() bool {
		return func() bool {
			canSend, _, err := sess.Readiness(id)
			return err == nil && canSend
		}
	}
	require.Eventually(t, busReady(n1), time.Second, 5*time.Millisecond, "n1's pipe to n0 never became ready")
	require.Eventually(t, busReady(n2), time.Second, 5*time.Millisecond, "n2's pipe to n0 never became ready")
	require.NoError(t, sess.Send(n1, []byte("N1")))

	body, err := sess.Recv(n0)
	require.NoError(t, err)
	require.Equal(t, []byte("N1"), body)

	relayed, err := sess.Recv(n2)
	require.NoError(t, err)
	require.Equal(t, []byte("N1"), relayed, "n0 must relay n1's message to n2, which never talked to n1 directly")
}

// TestNextBackoffFollowsSpecCurve is spec.md §7's reconnect backoff
// curve: 100ms initial, doubling per consecutive failure, capped at
// 60s.
func TestNextBackoffFollowsSpecCurve(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{9, 51200 * time.Millisecond},
		{10, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, c := range cases {
		require.Equal(t, c.want, nextBackoff(c.failures), "failures=%d", c.failures)
	}
}
