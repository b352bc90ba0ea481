package engine

import (
	"container/heap"
	"time"
)

// timer is a callback scheduled on the protocol worker.
type timer struct {
	at    time.Time
	seq   uint64
	fn    func()
	index int // position in the heap, -1 once fired or cancelled
}

// Active reports whether the timer is still pending.
func (t *timer) Active() bool { return t != nil && t.index >= 0 }

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// scheduler orders the worker's timers: query retransmissions, probe and
// announce steps, operation timeouts and cache maintenance. Timers with the
// same deadline fire in scheduling order.
type scheduler struct {
	timers timerHeap
	seq    uint64
}

func newScheduler() *scheduler {
	return &scheduler{}
}

// At schedules fn at an absolute time.
func (s *scheduler) At(at time.Time, fn func()) *timer {
	s.seq++
	t := &timer{at: at, seq: s.seq, fn: fn}
	heap.Push(&s.timers, t)
	return t
}

// Cancel removes a pending timer. Cancelling a fired or nil timer is a no-op.
func (s *scheduler) Cancel(t *timer) {
	if !t.Active() {
		return
	}
	heap.Remove(&s.timers, t.index)
	t.index = -1
}

// Next returns the earliest deadline, or the zero time when idle.
func (s *scheduler) Next() time.Time {
	if len(s.timers) == 0 {
		return time.Time{}
	}
	return s.timers[0].at
}

// RunDue fires every timer due at now, including timers scheduled by the
// callbacks themselves when they are already due.
func (s *scheduler) RunDue(now time.Time) int {
	n := 0
	for len(s.timers) > 0 && !s.timers[0].at.After(now) {
		t := heap.Pop(&s.timers).(*timer)
		t.fn()
		n++
	}
	return n
}

// Len returns the number of pending timers.
func (s *scheduler) Len() int { return len(s.timers) }
