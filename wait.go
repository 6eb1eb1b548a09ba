package fio

import "runtime"

type waitMode uint8

const (
	waitFirst waitMode = iota
	waitAll
	waitContinuous
)

// WaitResult is the partition of tracked futures a resolved
// WaitTillFirst or WaitTillAll carries. Resolution severs the member
// callbacks, so the sets are frozen from the waiter's point of view:
// a member that finishes later stays in Pending here even though it
// reports done itself.
type WaitResult struct {
	Done    map[*Future]struct{}
	Pending map[*Future]struct{}
}

// waitCore tracks a set of member futures for the three combinators.
// Severance of stale member callbacks is by generation: each member
// callback captures the generation it was registered under and
// no-ops once the waiter has moved on.
type waitCore struct {
	Future

	mode    waitMode
	done    map[*Future]struct{}
	pending map[*Future]struct{}
	fresh   []*Future // continuous only: completed but not yet delivered
	gen     uint64
}

func (w *waitCore) init(loop *Loop, owner any, mode waitMode, futures []Awaitable) {
	w.Future.init(loop)
	w.Future.owner = owner
	w.Future.cancelHook = w.cascadeCancel
	w.mode = mode
	w.done = make(map[*Future]struct{}, len(futures))
	w.pending = make(map[*Future]struct{}, len(futures))

	for _, a := range futures {
		f := a.future()
		if f.IsDone() {
			w.done[f] = struct{}{}
			if mode == waitContinuous {
				w.fresh = append(w.fresh, f)
			}
			continue
		}
		w.pending[f] = struct{}{}
		w.register(f)
	}

	switch mode {
	case waitFirst:
		if len(w.done) > 0 || len(w.pending) == 0 {
			w.finishSets()
		}
	case waitAll:
		if len(w.pending) == 0 {
			w.finishSets()
		}
	case waitContinuous:
		if len(w.fresh) > 0 {
			w.deliver()
		}
	}
}

func (w *waitCore) register(f *Future) {
	gen := w.gen
	f.addCallback(callback{
		fn:    func(src *Future) { w.memberDone(gen, src) },
		owner: w,
	})
}

func (w *waitCore) memberDone(gen uint64, f *Future) {
	if gen != w.gen {
		return
	}
	delete(w.pending, f)
	w.done[f] = struct{}{}

	switch w.mode {
	case waitFirst:
		if w.state.isPending() {
			w.finishSets()
		}
	case waitAll:
		if w.state.isPending() && len(w.pending) == 0 {
			w.finishSets()
		}
	case waitContinuous:
		// Accumulate even while resolved; Reset delivers the backlog.
		w.fresh = append(w.fresh, f)
		if w.state.isPending() {
			w.deliver()
		}
	}
}

// finishSets resolves with the live sets and severs the remaining
// member callbacks, making later completions no-ops.
func (w *waitCore) finishSets() {
	w.gen++
	w.finishCompleted(&WaitResult{Done: w.done, Pending: w.pending})
}

// deliver resolves a continuous waiter with the oldest undelivered
// member. Member callbacks stay armed: the waiter is restartable.
func (w *waitCore) deliver() {
	next := w.fresh[0]
	w.fresh = w.fresh[1:]
	w.finishCompleted(next)
}

// cascadeCancel cancels every still-pending member, then the waiter
// itself.
func (w *waitCore) cascadeCancel(cause error) bool {
	w.gen++
	for f := range w.pending {
		f.CancelWith(cause)
	}
	w.finishCancelled(cause)
	return true
}

// Sets returns the waiter's live done/pending partition.
func (w *waitCore) Sets() *WaitResult {
	return &WaitResult{Done: w.done, Pending: w.pending}
}

// WaitTillFirst resolves as soon as any tracked future finishes. The
// other members stay merely pending in its result and are not
// cancelled unless the waiter itself is. Its result value is a
// *WaitResult.
type WaitTillFirst struct {
	waitCore
}

// NewWaitTillFirst creates a waiter over futures. With an
// already-done input (or no inputs at all) it resolves immediately.
func NewWaitTillFirst(loop *Loop, futures ...Awaitable) *WaitTillFirst {
	w := &WaitTillFirst{}
	w.init(loop, w, waitFirst, futures)
	runtime.SetFinalizer(w, func(w *WaitTillFirst) { finalizeFuture(&w.Future) })
	return w
}

// WaitTillAll resolves once every tracked future finishes, in any
// order. Cancelling it cancels all still-pending members. Its result
// value is a *WaitResult.
type WaitTillAll struct {
	waitCore
}

// NewWaitTillAll creates a waiter over futures. With no pending
// inputs it resolves immediately.
func NewWaitTillAll(loop *Loop, futures ...Awaitable) *WaitTillAll {
	w := &WaitTillAll{}
	w.init(loop, w, waitAll, futures)
	runtime.SetFinalizer(w, func(w *WaitTillAll) { finalizeFuture(&w.Future) })
	return w
}

// WaitContinuously is a restartable WaitTillFirst: each resolution
// delivers one completed member future as its result value, and Reset
// re-arms it for the next. Completions that arrive while it is
// resolved are queued, not lost.
type WaitContinuously struct {
	waitCore
	exhausted bool
}

// NewWaitContinuously creates a continuous waiter over futures.
func NewWaitContinuously(loop *Loop, futures ...Awaitable) *WaitContinuously {
	w := &WaitContinuously{}
	w.init(loop, w, waitContinuous, futures)
	runtime.SetFinalizer(w, func(w *WaitContinuously) { finalizeFuture(&w.Future) })
	return w
}

// Add starts tracking another future. While the waiter is pending an
// already-done input resolves it immediately; while it is resolved
// but unreset the input only accumulates, to be delivered by a later
// Reset. Adding to a cancelled waiter is an InvalidStateError.
func (w *WaitContinuously) Add(a Awaitable) error {
	if w.IsCancelled() {
		return newInvalidState("Add", "cancelled")
	}
	f := a.future()
	if f.IsDone() {
		w.done[f] = struct{}{}
		w.fresh = append(w.fresh, f)
		if w.state.isPending() {
			w.deliver()
		}
		return nil
	}
	w.pending[f] = struct{}{}
	w.register(f)
	return nil
}

// Reset re-arms a resolved waiter. If undelivered completions are
// queued it resolves again immediately with the oldest one. Returns
// false if the waiter is cancelled; resetting a pending waiter is a
// no-op.
func (w *WaitContinuously) Reset() bool {
	if w.IsCancelled() {
		return false
	}
	if w.state.isPending() {
		return true
	}
	w.state.rearm()
	w.value, w.err = nil, nil
	if len(w.fresh) > 0 {
		w.deliver()
	}
	return true
}

// SetException mostly behaves as on a plain future, with one special
// case: a TimeoutError means "no further results are available" and
// resolves the waiter successfully, preserving the accumulated done
// set, instead of failing it.
func (w *WaitContinuously) SetException(err error) error {
	w.checkException("SetException", err)
	if IsTimeout(err) {
		if w.state.isDone() {
			return newInvalidState("SetException", w.state.kind().String())
		}
		w.exhausted = true
		w.finishCompleted(nil)
		return nil
	}
	return w.Future.SetException(err)
}

// Exhausted reports whether the waiter was told no further results
// will arrive, or has delivered everything it tracks.
func (w *WaitContinuously) Exhausted() bool {
	return w.exhausted || (len(w.pending) == 0 && len(w.fresh) == 0)
}
