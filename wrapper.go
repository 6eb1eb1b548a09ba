package fio

import (
	"context"
	"time"
)

const (
	// wrapperGracePeriod is how long a wrapper that propagated a
	// cancellation waits for the owning loop to react before giving
	// up regardless.
	wrapperGracePeriod = 100 * time.Millisecond
)

// FutureWrapper adapts a loop-bound future for use from outside its
// loop. Inspection delegates directly (the state word is atomic, and
// value/error are published before the terminal transition) while
// every mutation is marshaled onto the owning loop as a message and
// followed by a wake-up, since the loop may be parked and would
// otherwise miss the change.
type FutureWrapper struct {
	fut *Future
}

// WrapFuture wraps a for cross-thread inspection and mutation.
func WrapFuture(a Awaitable) *FutureWrapper {
	return &FutureWrapper{fut: a.future()}
}

// Future returns the wrapped future. Touch it only from its own loop.
func (w *FutureWrapper) Future() *Future { return w.fut }

// IsPending reports whether the future has not resolved yet.
func (w *FutureWrapper) IsPending() bool { return w.fut.IsPending() }

// IsDone reports whether the future resolved.
func (w *FutureWrapper) IsDone() bool { return w.fut.IsDone() }

// IsCancelled reports whether the future resolved by cancellation.
func (w *FutureWrapper) IsCancelled() bool { return w.fut.IsCancelled() }

// IsCancelling reports whether cancellation was requested but not yet
// observed.
func (w *FutureWrapper) IsCancelling() bool { return w.fut.IsCancelling() }

// Result reads the resolved outcome. Valid from any thread once the
// future is done; before that it returns an InvalidStateError.
func (w *FutureWrapper) Result() (any, error) { return w.fut.Result() }

// Exception reads the resolved error object, mirroring
// Future.Exception.
func (w *FutureWrapper) Exception() (error, error) { return w.fut.Exception() }

// Silence suppresses destruction diagnostics. Thread-safe flag flip.
func (w *FutureWrapper) Silence() { w.fut.Silence() }

// Cancel requests cancellation on the owning loop.
func (w *FutureWrapper) Cancel() { w.submit(func() { w.fut.Cancel() }) }

// CancelWith requests cancellation with a cause on the owning loop.
func (w *FutureWrapper) CancelWith(cause error) {
	if cause != nil {
		rejectSentinel("CancelWith", cause)
	}
	w.submit(func() { w.fut.CancelWith(cause) })
}

// SetResult applies the completion on the owning loop. Misuse against
// an already-done future is reported, not returned: the mutation
// lands asynchronously and the error has nowhere else to go.
func (w *FutureWrapper) SetResult(v any) {
	w.fut.checkGuard("SetResult")
	w.submit(func() {
		if err := w.fut.SetResult(v); err != nil {
			reportUnhandled("wrapper SetResult", err)
		}
	})
}

// SetResultIfPending applies the completion on the owning loop,
// silently dropping it if the future resolved first.
func (w *FutureWrapper) SetResultIfPending(v any) {
	w.fut.checkGuard("SetResultIfPending")
	w.submit(func() { w.fut.SetResultIfPending(v) })
}

// SetException applies the failure on the owning loop.
func (w *FutureWrapper) SetException(err error) {
	w.fut.checkException("SetException", err)
	w.submit(func() {
		if serr := w.fut.SetException(err); serr != nil {
			reportUnhandled("wrapper SetException", serr)
		}
	})
}

// SetExceptionIfPending applies the failure on the owning loop,
// silently dropping it if the future resolved first.
func (w *FutureWrapper) SetExceptionIfPending(err error) {
	w.fut.checkException("SetExceptionIfPending", err)
	w.submit(func() { w.fut.SetExceptionIfPending(err) })
}

// AddDoneCallback registers fn on the owning loop.
func (w *FutureWrapper) AddDoneCallback(fn func(*Future)) {
	w.submit(func() { w.fut.AddDoneCallback(fn) })
}

// submit marshals op onto the owning loop and wakes it.
func (w *FutureWrapper) submit(op func()) {
	w.fut.loop.CallSoonThreadSafe(op)
}

// FutureWrapperSync adds a blocking wait for plain OS threads. It is
// the only operation in this package allowed to truly block a thread.
type FutureWrapperSync struct {
	FutureWrapper
}

// WrapSync wraps a for blocking consumption from another OS thread.
func WrapSync(a Awaitable) *FutureWrapperSync {
	return &FutureWrapperSync{FutureWrapper{fut: a.future()}}
}

// Wait blocks the calling thread until the future resolves, timeout
// elapses (non-positive means no limit), or ctx is cancelled. On
// timeout or interruption the completion callback is deregistered
// and, if propagateCancel is set, the wrapped future is cancelled
// with a TimeoutError and the owning loop gets a grace period to
// react before Wait gives up regardless.
func (w *FutureWrapperSync) Wait(ctx context.Context, timeout time.Duration, propagateCancel bool) (any, error) {
	if w.fut.IsDone() {
		return w.fut.Result()
	}

	done := make(chan struct{})
	tok := new(int)
	w.register(tok, done)

	var expire <-chan time.Time
	if timeout > 0 {
		tm := time.NewTimer(timeout)
		defer tm.Stop()
		expire = tm.C
	}

	select {
	case <-done:
		return w.fut.Result()
	case <-expire:
	case <-ctx.Done():
	}

	w.submit(func() { w.fut.removeOwned(tok) })

	if propagateCancel {
		w.submit(func() { w.fut.CancelWith(&TimeoutError{}) })

		reacted := make(chan struct{})
		tok2 := new(int)
		w.register(tok2, reacted)

		grace := time.NewTimer(wrapperGracePeriod)
		defer grace.Stop()
		select {
		case <-reacted:
			return w.fut.Result()
		case <-grace.C:
			w.submit(func() { w.fut.removeOwned(tok2) })
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &TimeoutError{}
}

// register installs a one-shot completion event under an owner token,
// so concurrent waiters on the same future deregister only their own
// entry.
func (w *FutureWrapperSync) register(tok any, ch chan struct{}) {
	fn := func(*Future) { close(ch) }
	w.submit(func() {
		w.fut.addCallback(callback{fn: fn, key: funcKey(fn), owner: tok})
	})
}

// FutureWrapperAsync adapts a future owned by one loop for awaiting
// from a task on another loop: the wait is a suspension on the
// waiting loop, never an OS-thread block, so it composes inside
// another flow.
type FutureWrapperAsync struct {
	FutureWrapper
	waitLoop *Loop
}

// WrapAsync wraps a for consumption by tasks running on waitLoop.
func WrapAsync(a Awaitable, waitLoop *Loop) *FutureWrapperAsync {
	return &FutureWrapperAsync{
		FutureWrapper: FutureWrapper{fut: a.future()},
		waitLoop:      waitLoop,
	}
}

// Wait suspends fl until the wrapped future resolves, timeout elapses
// (non-positive means no limit), or fl is cancelled. Semantics mirror
// FutureWrapperSync.Wait, including the propagate-cancellation grace
// period, but every wait is a suspension on the waiting loop.
func (w *FutureWrapperAsync) Wait(fl *Flow, timeout time.Duration, propagateCancel bool) (any, error) {
	if fl.Loop() != w.waitLoop {
		panic(newInvalidState("Wait", "foreign loop"))
	}
	if w.fut.IsDone() {
		return w.fut.Result()
	}

	relay, tok := w.relay()
	if timeout > 0 {
		relay.ApplyTimeout(timeout)
	}
	if _, err := fl.Await(relay); err != nil {
		w.submit(func() { w.fut.removeOwned(tok) })

		if propagateCancel {
			w.submit(func() { w.fut.CancelWith(&TimeoutError{}) })

			relay2, tok2 := w.relay()
			relay2.ApplyTimeout(wrapperGracePeriod)
			if _, gerr := fl.Await(relay2); gerr == nil {
				return w.fut.Result()
			}
			w.submit(func() { w.fut.removeOwned(tok2) })
		}
		return nil, err
	}
	return w.fut.Result()
}

// relay installs a completion callback on the owning loop that pokes
// a fresh future on the waiting loop.
func (w *FutureWrapperAsync) relay() (*Future, any) {
	relay := NewFuture(w.waitLoop)
	tok := new(int)
	fn := func(*Future) {
		w.waitLoop.CallSoonThreadSafe(func() { relay.SetResultIfPending(nil) })
	}
	w.submit(func() {
		w.fut.addCallback(callback{fn: fn, key: funcKey(fn), owner: tok})
	})
	return relay, tok
}
