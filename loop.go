package fio

import (
	"container/heap"
	"context"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
)

// Loop is a single-threaded cooperative scheduler. All futures and
// tasks are bound to exactly one loop, and their state is mutated
// only from that loop's thread; other threads reach it through
// CallSoonThreadSafe and the wrapper types, each followed by a
// wake-up message.
type Loop struct {
	noCopy noCopy

	ctx    context.Context
	ready  deque.Deque[*Handle]
	timers timerHeap

	mu     sync.Mutex
	staged []*Handle

	wake         chan struct{}
	strongTimers atomic.Int64
	stopped      atomic.Bool

	current  *Task
	execSema chan struct{}
}

// NewLoop creates a stopped loop bound to ctx. The caller owns the
// thread that subsequently calls Run, RunUntilDone, or RunUntilIdle.
func NewLoop(ctx context.Context) *Loop {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Loop{
		ctx:      ctx,
		wake:     make(chan struct{}, 1),
		execSema: make(chan struct{}, ExecutorConcurrencyLimit),
	}
}

// Context returns the loop's base context.
func (l *Loop) Context() context.Context { return l.ctx }

// CurrentTask returns the task whose step is currently running, or
// nil between steps. Owner thread only; only Task.step writes it.
func (l *Loop) CurrentTask() *Task { return l.current }

// CallSoon schedules fn onto the run queue. Owner thread only; use
// CallSoonThreadSafe from anywhere else.
func (l *Loop) CallSoon(fn func()) *Handle {
	h := &Handle{fn: fn, loop: l}
	l.ready.PushBack(h)
	return h
}

// CallSoonThreadSafe schedules fn from any thread and wakes the loop.
func (l *Loop) CallSoonThreadSafe(fn func()) *Handle {
	h := &Handle{fn: fn, loop: l}
	l.mu.Lock()
	l.staged = append(l.staged, h)
	l.mu.Unlock()
	l.WakeUp()
	return h
}

// CallAfter schedules fn to run after delay. Owner thread only.
func (l *Loop) CallAfter(delay time.Duration, fn func()) *TimerHandle {
	return l.schedule(time.Now().Add(delay), fn, false)
}

// CallAt schedules fn to run at the given time. Owner thread only.
func (l *Loop) CallAt(when time.Time, fn func()) *TimerHandle {
	return l.schedule(when, fn, false)
}

// CallAfterWeak is CallAfter with a timer that does not keep the loop
// from exiting at idle.
func (l *Loop) CallAfterWeak(delay time.Duration, fn func()) *TimerHandle {
	return l.schedule(time.Now().Add(delay), fn, true)
}

// CallAtWeak is CallAt with a timer that does not keep the loop from
// exiting at idle.
func (l *Loop) CallAtWeak(when time.Time, fn func()) *TimerHandle {
	return l.schedule(when, fn, true)
}

func (l *Loop) schedule(when time.Time, fn func(), weak bool) *TimerHandle {
	h := &TimerHandle{
		Handle: Handle{fn: fn, loop: l},
		when:   when,
		weak:   weak,
	}
	heap.Push(&l.timers, h)
	if !weak {
		l.strongTimers.Add(1)
	}
	return h
}

// WakeUp pokes the loop out of its idle wait. Thread-safe, never
// blocks; redundant wake-ups coalesce in the channel buffer.
func (l *Loop) WakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop makes the running loop return after the current cycle.
// Thread-safe.
func (l *Loop) Stop() {
	l.stopped.Store(true)
	l.WakeUp()
}

// Run processes callbacks and timers until Stop. When idle it parks
// on the wake channel, so cross-thread work delivered through
// CallSoonThreadSafe resumes it.
func (l *Loop) Run() {
	l.run(false)
}

// RunUntilIdle processes callbacks and timers until there is nothing
// left: run queue empty, no staged cross-thread work, and no live
// strong timers. Pending weak timers do not keep it running.
func (l *Loop) RunUntilIdle() {
	l.run(true)
}

// RunUntilDone runs the loop until a resolves, then returns its
// outcome.
func (l *Loop) RunUntilDone(a Awaitable) (any, error) {
	f := a.future()
	f.AddDoneCallback(func(*Future) { l.Stop() })
	l.Run()
	return f.Result()
}

func (l *Loop) run(untilIdle bool) {
	l.stopped.Store(false)

	_, tracer := trace.NewTask(l.ctx, traceTaskType)
	defer tracer.End()
	l.tracef("RUN untilIdle=%v", untilIdle)

	for !l.stopped.Load() {
		l.drainStaged()
		l.expireTimers()

		// Run only the handles queued before this cycle. Work they
		// schedule lands in the next cycle, never inline.
		if n := l.ready.Len(); n > 0 {
			for i := 0; i < n && !l.stopped.Load(); i++ {
				l.ready.PopFront().run()
			}
			continue
		}

		if l.hasStaged() {
			continue
		}

		next, ok := l.nextDeadline()
		if untilIdle && l.strongTimers.Load() <= 0 {
			break
		}
		if !ok {
			if untilIdle {
				break
			}
			select {
			case <-l.wake:
			case <-l.ctx.Done():
				return
			}
			continue
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-l.wake:
		case <-timer.C:
		case <-l.ctx.Done():
			timer.Stop()
			return
		}
		timer.Stop()
	}

	l.tracef("RUN DONE")
}

func (l *Loop) drainStaged() {
	l.mu.Lock()
	staged := l.staged
	l.staged = nil
	l.mu.Unlock()
	for _, h := range staged {
		l.ready.PushBack(h)
	}
}

func (l *Loop) hasStaged() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.staged) > 0
}

func (l *Loop) expireTimers() {
	now := time.Now()
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.cancelled.Load() {
			heap.Pop(&l.timers)
			continue
		}
		if top.when.After(now) {
			return
		}
		heap.Pop(&l.timers)
		top.expired.Store(true)
		if !top.weak {
			l.strongTimers.Add(-1)
		}
		l.ready.PushBack(&top.Handle)
	}
}

// nextDeadline returns the nearest live timer deadline, discarding
// cancelled timers from the top of the heap.
func (l *Loop) nextDeadline() (time.Time, bool) {
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.cancelled.Load() {
			heap.Pop(&l.timers)
			continue
		}
		return top.when, true
	}
	return time.Time{}, false
}
