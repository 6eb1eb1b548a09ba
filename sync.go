package fio

import "github.com/gammazero/deque"

// sema is the shared wait queue under the flow synchronization
// primitives. Suspended flows queue as futures; release hands off to
// the oldest waiter whose wait was not cancelled in the meantime.
type sema struct {
	noCopy noCopy
	w      deque.Deque[*Future]
}

// acquire suspends the flow until a release grants it. A cancellation
// while queued surfaces as the returned error; the abandoned queue
// slot is skipped at release time. granted reports whether a release
// completed the wait future anyway, which happens when the grant and
// the cancellation land in the same cycle: the caller decides whether
// such a consumed grant must be passed on.
func (s *sema) acquire(fl *Flow) (granted bool, err error) {
	f := NewFuture(fl.Loop())
	s.w.PushBack(f)
	if _, err := fl.Await(f); err != nil {
		return f.state.isCompleted(), err
	}
	return true, nil
}

// release resumes the oldest live waiter. Reports whether a waiter
// was granted.
func (s *sema) release() bool {
	for s.w.Len() > 0 {
		if f := s.w.PopFront(); f.SetResultIfPending(nil) {
			return true
		}
	}
	return false
}

// Mutex provides mutual exclusion for tasks sharing a loop. Only one
// task holds the lock at a time; contenders suspend in FIFO order.
type Mutex struct {
	noCopy noCopy
	r      *Task
	sema   sema
}

// Lock acquires the mutex, suspending the flow while another task
// holds it. Returns the cancellation if the flow is cancelled while
// queued, in which case the lock was not acquired.
func (m *Mutex) Lock(fl *Flow) error {
	if m.r == nil {
		m.r = fl.Task()
		return nil
	}
	granted, err := m.sema.acquire(fl)
	if err != nil {
		if granted {
			// The handoff landed but this waiter was cancelled before
			// its wake ran. Pass the lock on so it is not lost.
			m.Unlock()
		}
		return err
	}
	m.r = fl.Task()
	return nil
}

// Unlock releases the mutex, handing it to the oldest live waiter.
// Resumption goes through the run queue, so on a handoff the owner
// stays set until the waiter takes over; a barging Lock cannot slip
// in between release and resumption.
func (m *Mutex) Unlock() {
	if !m.sema.release() {
		m.r = nil
	}
}

// WaitCount returns the number of queued waiters, including waiters
// whose wait was already cancelled.
func (m *Mutex) WaitCount() int {
	return m.sema.w.Len()
}

// WaitGroup waits for a collection of tasks to finish. Tasks call
// Add(1) when they start and Done when they finish; Wait suspends the
// calling flow until the counter reaches zero.
type WaitGroup struct {
	noCopy noCopy
	v      int32
	w      uint32
	sema   sema
}

// Add adds delta to the counter, resuming every waiter when it
// reaches zero. A negative counter panics.
func (wg *WaitGroup) Add(delta int) {
	wg.v += int32(delta)

	if wg.v < 0 {
		panic("fio: negative WaitGroup counter")
	}

	if wg.w != 0 && delta > 0 && wg.v == int32(delta) {
		panic("fio: WaitGroup misuse: Add called concurrently with Wait")
	}

	if wg.v > 0 || wg.w == 0 {
		return
	}

	for ; wg.w != 0; wg.w-- {
		wg.sema.release()
	}
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait suspends the flow until the counter is zero. Returns
// immediately if it already is.
func (wg *WaitGroup) Wait(fl *Flow) error {
	if wg.v == 0 {
		return nil
	}
	wg.w++
	// Zero broadcasts a grant to every queued waiter, so a grant
	// consumed by a cancelled wait needs no passing on.
	_, err := wg.sema.acquire(fl)
	return err
}
