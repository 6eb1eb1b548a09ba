package fio

import (
	"reflect"
	"runtime"
	"time"
)

// Awaitable is anything a Flow can suspend on: a Future or any type
// embedding one (Task, the wait combinators, ResultGatheringFuture).
type Awaitable interface {
	future() *Future
}

// callback is one entry in a future's done-callback list. key is the
// function's code pointer and is what RemoveDoneCallback matches;
// internal registrations carry an owner token so a task can remove
// exactly its own wake-up entry.
type callback struct {
	fn    func(*Future)
	key   uintptr
	owner any
}

func funcKey(fn func(*Future)) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// Future is a one-shot container for a result or error produced
// later. It is bound to a single loop and, apart from the flag bits
// in its state word, must only be mutated from that loop's thread;
// foreign threads go through FutureWrapperSync or FutureWrapperAsync.
type Future struct {
	noCopy noCopy

	loop      *Loop
	state     stateWord
	value     any
	err       error
	callbacks []callback

	// blocking marks this future as the actual suspension target of a
	// flow, set immediately before it is yielded to the task driver.
	blocking bool

	// cancelHook, when set, replaces the terminal cancel transition.
	// Tasks use it to forward cancellation to the future they are
	// suspended on; wait combinators use it to cascade onto members.
	cancelHook func(cause error) bool

	// guarded rejects external SetResult/SetException: a task's
	// outcome is derived exclusively from driving its flow.
	guarded bool

	// owner points back at the enclosing Task or combinator, for
	// diagnostics walks.
	owner any
}

// NewFuture creates a pending future bound to loop.
func NewFuture(loop *Loop) *Future {
	f := &Future{}
	f.init(loop)
	runtime.SetFinalizer(f, finalizeFuture)
	return f
}

// init prepares an embedded future. Embedding types set their own
// finalizer on the outer value.
func (f *Future) init(loop *Loop) {
	f.loop = loop
}

func (f *Future) future() *Future { return f }

// Loop returns the owning loop.
func (f *Future) Loop() *Loop { return f.loop }

// IsPending reports whether no terminal transition happened yet.
func (f *Future) IsPending() bool { return f.state.isPending() }

// IsDone reports whether the future reached a terminal state.
func (f *Future) IsDone() bool { return f.state.isDone() }

// IsCancelled reports whether the terminal state is cancellation.
func (f *Future) IsCancelled() bool { return f.state.isCancelled() }

// IsCancelling reports whether cancellation was requested but not yet
// observed. Cleared by the terminal transition.
func (f *Future) IsCancelling() bool {
	return f.state.isPending() && f.state.has(flagCancelling)
}

// Cancel requests cancellation. Returns false if the future is
// already done (the caller's expectation was stale, so destruction
// diagnostics are silenced as a side effect) and true once the
// future is cancelled (or, for tasks, once the request is in flight).
func (f *Future) Cancel() bool {
	return f.CancelWith(nil)
}

// CancelWith is Cancel with an explicit cause, retrievable from the
// resulting CancelledError. Passing the reserved flow-teardown
// sentinel panics: it would be ambiguous with normal completion.
func (f *Future) CancelWith(cause error) bool {
	if cause != nil {
		rejectSentinel("CancelWith", cause)
	}
	if f.state.isDone() {
		f.Silence()
		return false
	}
	if hook := f.cancelHook; hook != nil {
		return hook(cause)
	}
	f.finishCancelled(cause)
	return true
}

// finishCancelled performs the terminal cancel transition. cause may
// already be a *CancelledError (a propagated cancellation); anything
// else becomes the new error's cause.
func (f *Future) finishCancelled(cause error) {
	if ce, ok := cause.(*CancelledError); ok {
		f.err = ce
	} else {
		f.err = newCancelled(cause)
	}
	if f.state.finish(stateCancelled) {
		f.resolve()
	}
}

// SetResult transitions to completed. Returns an InvalidStateError if
// the future is already done; panics if the future is task-managed.
func (f *Future) SetResult(v any) error {
	f.checkGuard("SetResult")
	if f.state.isDone() {
		return newInvalidState("SetResult", f.state.kind().String())
	}
	f.finishCompleted(v)
	return nil
}

// SetResultIfPending is SetResult that reports a no-op instead of
// failing: false if the future was already done, true if applied.
func (f *Future) SetResultIfPending(v any) bool {
	f.checkGuard("SetResultIfPending")
	if f.state.isDone() {
		return false
	}
	f.finishCompleted(v)
	return true
}

// SetException transitions to failed. Returns an InvalidStateError if
// already done; panics on a nil error, a reserved sentinel, or a
// task-managed future.
func (f *Future) SetException(err error) error {
	f.checkException("SetException", err)
	if f.state.isDone() {
		return newInvalidState("SetException", f.state.kind().String())
	}
	f.finishFailed(err)
	return nil
}

// SetExceptionIfPending is SetException that reports a no-op instead
// of failing.
func (f *Future) SetExceptionIfPending(err error) bool {
	f.checkException("SetExceptionIfPending", err)
	if f.state.isDone() {
		return false
	}
	f.finishFailed(err)
	return true
}

func (f *Future) checkGuard(op string) {
	if f.guarded {
		panic(newInvalidState(op, "task-managed"))
	}
}

func (f *Future) checkException(op string, err error) {
	f.checkGuard(op)
	if err == nil {
		panic(newInvalidState(op, "nil error"))
	}
	rejectSentinel(op, err)
}

func (f *Future) finishCompleted(v any) {
	f.value = v
	if f.state.finish(stateCompleted) {
		f.resolve()
	}
}

func (f *Future) finishFailed(err error) {
	f.err = err
	if f.state.finish(stateFailed) {
		f.resolve()
	}
}

// Silence suppresses destruction diagnostics. Always allowed,
// idempotent, thread-safe.
func (f *Future) Silence() {
	f.state.set(flagSilenced)
}

// Result returns the stored value. A stored failure is returned as
// its error (marking it retrieved), a cancellation as a
// *CancelledError carrying any cause, and a still-pending future as
// an *InvalidStateError. Repeatable: reading never consumes.
func (f *Future) Result() (any, error) {
	switch f.state.kind() {
	case stateCompleted:
		return f.value, nil
	case stateFailed:
		f.state.set(flagRetrieved)
		return nil, f.err
	case stateCancelled:
		return nil, f.err
	default:
		return nil, newInvalidState("Result", "pending")
	}
}

// Exception mirrors Result but hands back the error object instead of
// surfacing it: nil for a completed future, the stored error for a
// failed one (marking it retrieved), a *CancelledError for a
// cancelled one. The second return is non-nil only for the pending
// misuse case.
func (f *Future) Exception() (error, error) {
	switch f.state.kind() {
	case stateCompleted:
		return nil, nil
	case stateFailed:
		f.state.set(flagRetrieved)
		return f.err, nil
	case stateCancelled:
		return f.err, nil
	default:
		return nil, newInvalidState("Exception", "pending")
	}
}

// AddDoneCallback appends fn to the callback list. If the future is
// already done fn is scheduled onto the run queue rather than invoked
// inline, so callbacks never observe partial producer state and
// chains of resolved futures cannot grow the stack.
func (f *Future) AddDoneCallback(fn func(*Future)) {
	f.addCallback(callback{fn: fn, key: funcKey(fn)})
}

// RemoveDoneCallback removes every pending entry whose function
// matches fn and returns the removed count. Matching is by the
// function's code pointer.
func (f *Future) RemoveDoneCallback(fn func(*Future)) int {
	key := funcKey(fn)
	return f.removeCallbacks(func(cb callback) bool { return cb.key == key })
}

func (f *Future) addCallback(cb callback) {
	if f.state.isDone() {
		f.loop.CallSoon(func() { cb.fn(f) })
		return
	}
	f.callbacks = append(f.callbacks, cb)
}

func (f *Future) removeOwned(owner any) int {
	return f.removeCallbacks(func(cb callback) bool { return cb.owner == owner })
}

func (f *Future) removeCallbacks(match func(callback) bool) int {
	removed := 0
	kept := f.callbacks[:0]
	for _, cb := range f.callbacks {
		if match(cb) {
			removed++
			continue
		}
		kept = append(kept, cb)
	}
	f.callbacks = kept
	return removed
}

// resolve drains the callback list and schedules every entry, in
// insertion order, onto the run queue.
func (f *Future) resolve() {
	cbs := f.callbacks
	f.callbacks = nil
	for _, cb := range cbs {
		fn := cb.fn
		f.loop.CallSoon(func() { fn(f) })
	}
}

// ApplyTimeout arranges for the future to be cancelled with a
// TimeoutError after d. A non-positive d cancels immediately; a
// future that resolves first deschedules the pending cancellation.
// Owner thread only.
func (f *Future) ApplyTimeout(d time.Duration) {
	if d <= 0 {
		f.CancelWith(&TimeoutError{})
		return
	}
	if f.state.isDone() {
		return
	}
	h := f.loop.CallAfter(d, func() {
		f.CancelWith(&TimeoutError{})
	})
	f.addCallback(callback{fn: func(*Future) { h.Cancel() }, owner: h})
}

// ResultOf reads an awaitable's result as T. A nil or mistyped value
// yields the zero T.
func ResultOf[T any](a Awaitable) (T, error) {
	v, err := a.future().Result()
	if err != nil {
		var zero T
		return zero, err
	}
	t, _ := v.(T)
	return t, nil
}

// finalizeFuture reports, best effort, futures that die in states
// nobody will ever observe. It runs on the finalizer thread; by the
// time it runs nothing else references f.
func finalizeFuture(f *Future) {
	f.state.set(flagDestroyed)
	if f.state.has(flagSilenced) {
		return
	}
	switch {
	case f.state.isPending() && len(f.callbacks) > 0:
		reportUnhandled("future destroyed while pending with waiters",
			newInvalidState("finalize", "pending"))
	case f.state.isFailed() && !f.state.has(flagRetrieved):
		reportUnhandled("future destroyed with unretrieved failure", f.err)
	}
}
