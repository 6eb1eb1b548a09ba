package fio

import (
	"container/heap"
	"sync/atomic"
	"time"
)

// Handle represents a callback scheduled onto a loop. Cancel is safe
// from any thread; a cancelled handle is skipped when its turn comes.
type Handle struct {
	fn        func()
	loop      *Loop
	cancelled atomic.Bool
}

// Cancel prevents the callback from running. Idempotent, thread-safe.
func (h *Handle) Cancel() {
	h.cancelled.Store(true)
}

// Cancelled reports whether the handle was cancelled.
func (h *Handle) Cancelled() bool {
	return h.cancelled.Load()
}

// run executes the callback unless cancelled. Panics are reported and
// swallowed: a broken callback must not take the loop down.
func (h *Handle) run() {
	if h.cancelled.Load() {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			reportUnhandled("callback panicked", panicError(p))
		}
	}()
	h.fn()
}

// TimerHandle is a Handle with a deadline. Weak timers fire normally
// while the loop runs but do not keep it from exiting at idle.
type TimerHandle struct {
	Handle
	when    time.Time
	weak    bool
	index   int
	expired atomic.Bool
}

// Cancel prevents the timer from firing and releases its hold on the
// loop's idle exit. Idempotent, thread-safe.
func (h *TimerHandle) Cancel() {
	if h.cancelled.CompareAndSwap(false, true) {
		if !h.weak && !h.expired.Load() {
			h.loop.strongTimers.Add(-1)
		}
		h.loop.WakeUp()
	}
}

// timerHeap orders timers by deadline. container/heap interface.
type timerHeap []*TimerHandle

func (q timerHeap) Len() int { return len(q) }

func (q timerHeap) Less(i, j int) bool {
	return q[i].when.Before(q[j].when)
}

func (q timerHeap) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerHeap) Push(x any) {
	h := x.(*TimerHandle)
	h.index = len(*q)
	*q = append(*q, h)
}

func (q *timerHeap) Pop() any {
	old := *q
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	*q = old[:n-1]
	return h
}

var _ heap.Interface = (*timerHeap)(nil)
