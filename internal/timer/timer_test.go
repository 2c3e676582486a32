package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spscale/spscale/spslog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestServiceFiresAfterDelay(t *testing.T) {
	fired := make(chan ID, 1)
	svc := New(func(id ID) { fired <- id }, spslog.Nop{})
	defer svc.Shutdown()

	id := svc.Schedule(10 * time.Millisecond)
	select {
	case got := <-fired:
		require.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestServiceFiresInDeadlineOrder(t *testing.T) {
	var mu sync.Mutex
	var order []ID
	done := make(chan struct{}, 2)

	svc := New(func(id ID) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		done <- struct{}{}
	}, spslog.Nop{})
	defer svc.Shutdown()

	later := svc.Schedule(40 * time.Millisecond)
	sooner := svc.Schedule(5 * time.Millisecond)

	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []ID{sooner, later}, order, "earlier deadline must fire first regardless of schedule order")
}

func TestCancelPreventsFire(t *testing.T) {
	fired := make(chan ID, 1)
	svc := New(func(id ID) { fired <- id }, spslog.Nop{})
	defer svc.Shutdown()

	id := svc.Schedule(20 * time.Millisecond)
	svc.Cancel(id)

	select {
	case <-fired:
		t.Fatal("cancelled timer must not fire")
	case <-time.After(60 * time.Millisecond):
	}
}

// TestCancelRaceIsHarmless exercises the documented best-effort
// cancellation race: Cancel may lose to an in-flight Fire. The fire
// callback and a concurrent Cancel of the same id must never panic or
// deadlock, regardless of which one "wins".
func TestCancelRaceIsHarmless(t *testing.T) {
	var wg sync.WaitGroup
	svc := New(func(ID) {}, spslog.Nop{})
	defer svc.Shutdown()

	for i := 0; i < 50; i++ {
		id := svc.Schedule(time.Millisecond)
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			svc.Cancel(id)
		}(id)
	}
	wg.Wait()
}

func TestCancelUnknownIDIsNoop(t *testing.T) {
	svc := New(func(ID) {}, spslog.Nop{})
	defer svc.Shutdown()

	require.NotPanics(t, func() { svc.Cancel(ID(99999)) })
}

func TestShutdownIsIdempotent(t *testing.T) {
	svc := New(func(ID) {}, spslog.Nop{})
	svc.Shutdown()
	require.NotPanics(t, func() { svc.Shutdown() })
}
