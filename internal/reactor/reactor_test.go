package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spscale/spscale/spslog"
)

type recordingHandler struct {
	mu   sync.Mutex
	seen []Event
}

func (h *recordingHandler) HandleEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, ev)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestTokenRoundTrip(t *testing.T) {
	tok := NewToken(OwnerEndpoint, 0x123456)
	require.Equal(t, OwnerEndpoint, tok.Kind())
	require.Equal(t, uint32(0x123456), tok.ID())
}

func TestRunDispatchesPostedEvents(t *testing.T) {
	h := &recordingHandler{}
	r := New(h, spslog.Nop{}, 0)
	go r.Run()
	defer r.Shutdown()

	r.Post(Event{Token: NewToken(OwnerEndpoint, 1)})
	require.Eventually(t, func() bool { return h.count() == 1 }, time.Second, time.Millisecond)
}

func TestRunOnceReportsTimeout(t *testing.T) {
	h := &recordingHandler{}
	r := New(h, spslog.Nop{}, 0)
	defer r.Shutdown()

	got := r.RunOnce(10 * time.Millisecond)
	require.False(t, got)
}

func TestRunOnceDispatchesSingleEvent(t *testing.T) {
	h := &recordingHandler{}
	r := New(h, spslog.Nop{}, 0)
	defer r.Shutdown()

	r.Post(Event{Token: NewToken(OwnerTimer, 1)})
	got := r.RunOnce(time.Second)
	require.True(t, got)
	require.Equal(t, 1, h.count())
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	h := &recordingHandler{}
	r := New(h, spslog.Nop{}, 4)

	r.Post(Event{Token: NewToken(OwnerEndpoint, 1)})
	r.Post(Event{Token: NewToken(OwnerEndpoint, 2)})

	done := make(chan struct{})
	go func() { r.Run(); close(done) }()
	r.Shutdown()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Run never returned after Shutdown")
	}
	<-done
	require.Equal(t, 2, h.count(), "events queued before Shutdown must still be dispatched")
}

func TestPostAfterShutdownIsNoop(t *testing.T) {
	h := &recordingHandler{}
	r := New(h, spslog.Nop{}, 0)
	r.Shutdown()

	require.NotPanics(t, func() { r.Post(Event{Token: NewToken(OwnerEndpoint, 1)}) })
}

func TestShutdownIsIdempotent(t *testing.T) {
	r := New(&recordingHandler{}, spslog.Nop{}, 0)
	r.Shutdown()
	require.NotPanics(t, r.Shutdown)
}
