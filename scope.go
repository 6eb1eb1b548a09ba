package fio

import (
	"context"
	"sync/atomic"
	"time"
)

// ExecutorScope is the handle handed to code migrated off its loop by
// EnterExecutor. It runs on a worker thread, so every wait it
// performs is a sync-wrapper blocking wait, and the future it
// currently blocks on is tracked so a cancellation of the owning task
// reaches it.
type ExecutorScope struct {
	loop      *Loop
	task      *Task
	current   atomic.Pointer[Future]
	cancelled atomic.Bool
}

// Loop returns the loop the scope migrated off of.
func (s *ExecutorScope) Loop() *Loop { return s.loop }

// Task returns the task owning the scope.
func (s *ExecutorScope) Task() *Task { return s.task }

// Cancelled reports whether the owning task was cancelled while the
// scope was off-loop.
func (s *ExecutorScope) Cancelled() bool { return s.cancelled.Load() }

// Await blocks the worker thread until a resolves. The future is
// recorded as the scope's current blocking target for the duration,
// so cancelling the owning task cancels it.
func (s *ExecutorScope) Await(a Awaitable) (any, error) {
	if s.cancelled.Load() {
		return nil, newCancelled(nil)
	}
	f := a.future()
	s.current.Store(f)
	defer s.current.Store(nil)
	return WrapSync(f).Wait(context.Background(), 0, false)
}

// Sleep blocks the worker thread for d, cancellably: the underlying
// timer future is the scope's blocking target while it runs.
func (s *ExecutorScope) Sleep(d time.Duration) error {
	f := NewFuture(s.loop)
	s.loop.CallSoonThreadSafe(func() {
		s.loop.CallAfter(d, func() { f.SetResultIfPending(nil) })
	})
	_, err := s.Await(f)
	return err
}

// EnterExecutor migrates the remainder of the scoped computation onto
// a worker thread while the task suspends on its completion, then
// hands control back to the loop. While inside the scope, cancelling
// the owning task cancels whatever inner future the migrated code
// currently blocks on; between blocks the cancellation is observed at
// the next scope wait, or converts a silent success into a
// cancellation on exit.
func (fl *Flow) EnterExecutor(fn func(s *ExecutorScope) (any, error)) (any, error) {
	loop := fl.Loop()
	s := &ExecutorScope{loop: loop, task: fl.task}

	gate := loop.RunInExecutor(func() (any, error) {
		v, err := fn(s)
		if err == nil && s.cancelled.Load() {
			err = newCancelled(nil)
		}
		return v, err
	})
	gate.cancelHook = func(cause error) bool {
		// The worker adopts the cancellation on exit, so the gate stays
		// pending until then. Mark it cancelling for that window so the
		// owning task reports the request; the terminal transition
		// clears the flag.
		gate.state.set(flagCancelling)
		s.cancelled.Store(true)
		if cur := s.current.Load(); cur != nil {
			cur.CancelWith(cause)
		}
		return true
	}

	return fl.Await(gate)
}
