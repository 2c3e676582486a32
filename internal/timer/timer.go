// Package timer implements the monotonic priority queue of (deadline,
// callback-id) described in spec.md §4.2, built directly on stdlib
// container/heap the way the teacher's session.go builds its write
// shaper on the same package (shaperHeap). Ties are broken by
// insertion order.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/spscale/spscale/spslog"
)

// ID identifies one scheduled timer (spec.md's "Scheduled").
type ID uint64

type entry struct {
	id       ID
	deadline time.Time
	seq      uint64
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Service fires Fire(id) exactly once per non-cancelled, expired
// timer, from its own internal goroutine — the "wake-up source" the
// reactor integrates with. Cancellation is best-effort: a cancelled id
// is removed from the queue under lock, but a Fire already in flight
// when Cancel runs may still be delivered; callers (the dispatcher and
// protocol engines) must tolerate and silently drop a delivery for an
// id they no longer recognize as pending.
type Service struct {
	mu   sync.Mutex
	heap entryHeap
	byID map[ID]*entry

	nextID  ID
	nextSeq uint64

	fire func(ID)
	log  spslog.Logger

	timer    *time.Timer
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New starts the service's goroutine. fire is invoked once per expired
// timer; it must not block.
func New(fire func(ID), log spslog.Logger) *Service {
	if log == nil {
		log = spslog.Nop{}
	}
	t := time.NewTimer(time.Hour)
	t.Stop()
	s := &Service{
		byID: make(map[ID]*entry),
		fire: fire,
		log:  log,
		timer: t,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go s.loop()
	return s
}

// Schedule arms a new timer that fires delay from now and returns its
// ID.
func (s *Service) Schedule(delay time.Duration) ID {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.nextSeq++
	e := &entry{id: id, deadline: time.Now().Add(delay), seq: s.nextSeq}
	heap.Push(&s.heap, e)
	s.byID[id] = e
	s.rearm()
	s.mu.Unlock()
	return id
}

// Cancel best-effort removes id from the queue. Safe to call with an
// id that already fired or was already cancelled.
func (s *Service) Cancel(id ID) {
	s.mu.Lock()
	if e, ok := s.byID[id]; ok {
		heap.Remove(&s.heap, e.index)
		delete(s.byID, id)
		s.rearm()
	}
	s.mu.Unlock()
}

// Shutdown stops the service's goroutine. Idempotent.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// rearm must be called with s.mu held; resets the internal timer to
// the next due deadline, or disarms it if the queue is empty.
func (s *Service) rearm() {
	s.timer.Stop()
	select {
	case <-s.timer.C:
	default:
	}
	if len(s.heap) == 0 {
		return
	}
	d := time.Until(s.heap[0].deadline)
	if d < 0 {
		d = 0
	}
	s.timer.Reset(d)
}

func (s *Service) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case <-s.timer.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	now := time.Now()
	var due []ID
	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].deadline.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byID, e.id)
		due = append(due, e.id)
	}
	s.rearm()
	s.mu.Unlock()

	for _, id := range due {
		s.fire(id)
	}
}
