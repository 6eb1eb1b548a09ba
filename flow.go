package fio

import (
	"context"
	"reflect"
	"runtime"
	"time"

	"github.com/webriots/coro"
)

// Step is one observation of a driven computation: either a terminal
// outcome (Done with Value or Err) or a suspension request (Yield).
type Step struct {
	Done  bool
	Value any
	Err   error
	Yield any
}

// Resumable is the driven-computation contract a Task consumes: a
// resumable unit that runs to its next suspension point per call.
// ResumeWithCancel injects a cancellation at that point instead of a
// plain resume.
type Resumable interface {
	Resume() Step
	ResumeWithCancel(cause error) Step
	Name() string
}

// FlowFunc is a suspendable computation. It runs cooperatively on its
// task's loop and suspends through the Flow handle.
type FlowFunc func(ctx context.Context, fl *Flow) (any, error)

// signal is what a suspended flow receives when resumed. A non-nil
// cancel means cancellation was injected at this suspension point.
type signal struct {
	cancel error
}

// Flow is the coroutine-backed Resumable and, inside the computation,
// the handle it suspends through. Built on coro.New exactly as the
// task driver needs it: the coroutine yields Steps to the driver and
// receives signals back.
type Flow struct {
	task    *Task
	ctx     context.Context
	name    string
	yieldfn func(Step) signal
	resume  func(signal) (Step, bool)
	abortfn func()

	final         Step
	finished      bool
	aborting      bool
	pendingCancel error
}

func newFlow(ctx context.Context, t *Task, fn FlowFunc) *Flow {
	fl := &Flow{task: t, ctx: ctx, name: funcName(fn)}

	fl.resume, fl.abortfn = coro.New(
		func(yield func(Step) signal, _ func() signal) (fin Step) {
			fl.yieldfn = yield

			defer func() {
				if p := recover(); p != nil {
					if fl.aborting {
						fl.finished = true
						panic(p)
					}
					fin = Step{Done: true, Err: panicError(p)}
				}
				fl.final = fin
				fl.finished = true
			}()

			// Cancelled before the first resume: the computation never
			// gets to run.
			if c := fl.pendingCancel; c != nil {
				return Step{Done: true, Err: c}
			}

			v, err := fn(fl.ctx, fl)
			return Step{Done: true, Value: v, Err: err}
		},
	)

	return fl
}

// Resume runs the flow to its next suspension point or completion.
func (fl *Flow) Resume() Step {
	return fl.step(signal{})
}

// ResumeWithCancel resumes the flow with a cancellation injected: the
// pending Await returns the cancellation instead of its future's
// result. cause, when not already a *CancelledError, becomes the
// injected error's cause.
func (fl *Flow) ResumeWithCancel(cause error) Step {
	inj, ok := cause.(*CancelledError)
	if !ok {
		inj = newCancelled(cause)
	}
	fl.pendingCancel = inj
	st := fl.step(signal{cancel: inj})
	fl.pendingCancel = nil
	return st
}

// Name returns the qualified name of the driven function.
func (fl *Flow) Name() string { return fl.name }

func (fl *Flow) step(sig signal) Step {
	if fl.finished {
		return fl.final
	}
	st, alive := fl.resume(sig)
	if !alive {
		// The coroutine returned; the terminal step was handed over
		// through fl.final so nothing depends on how coro delivers
		// return values.
		return fl.final
	}
	return st
}

// abort unwinds an unfinished coroutine so its defers run. The
// teardown panic coro injects is re-raised past the flow's own
// recover.
func (fl *Flow) abort() {
	if fl.finished {
		return
	}
	fl.aborting = true
	fl.abortfn()
	fl.finished = true
}

// Await suspends the flow on a until it resolves, then surfaces its
// outcome. An injected cancellation is returned as a *CancelledError.
// The awaitable must belong to the task's own loop; use
// FutureWrapperAsync for futures owned elsewhere.
func (fl *Flow) Await(a Awaitable) (any, error) {
	f := a.future()
	if f.loop != fl.task.loop {
		panic(newInvalidState("Await", "foreign loop"))
	}
	f.blocking = true
	sig := fl.yieldfn(Step{Yield: f})
	if sig.cancel != nil {
		return nil, sig.cancel
	}
	return f.Result()
}

// Yield relinquishes the loop for one cycle without waiting on
// anything. Returns the injected cancellation, if any.
func (fl *Flow) Yield() error {
	sig := fl.yieldfn(Step{})
	if sig.cancel != nil {
		return sig.cancel
	}
	return nil
}

// Sleep suspends the flow for d.
func (fl *Flow) Sleep(d time.Duration) error {
	f := NewFuture(fl.task.loop)
	h := fl.task.loop.CallAfter(d, func() {
		f.SetResultIfPending(nil)
	})
	if _, err := fl.Await(f); err != nil {
		h.Cancel()
		return err
	}
	return nil
}

// Task returns the task driving this flow.
func (fl *Flow) Task() *Task { return fl.task }

// Loop returns the owning loop.
func (fl *Flow) Loop() *Loop { return fl.task.loop }

// Context returns the flow's context, which carries its task.
func (fl *Flow) Context() context.Context { return fl.ctx }

func funcName(fn FlowFunc) string {
	pc := reflect.ValueOf(fn).Pointer()
	if f := runtime.FuncForPC(pc); f != nil {
		return f.Name()
	}
	return "unknown"
}
