package fio

import (
	"context"
	"fmt"
	"runtime"
	"runtime/trace"
	"strings"

	"github.com/pkg/errors"
)

// Task is a Future driven by repeatedly resuming a suspendable
// computation. It is created pending, steps only on its own loop, and
// derives its outcome exclusively from the flow: external callers may
// request cancellation but never set a result or exception.
type Task struct {
	Future

	flow Resumable
	name string
	ctx  context.Context

	// awaiting is the future this task is currently suspended on, nil
	// between steps.
	awaiting *Future

	// cause is the cancellation cause stored by CancelWith before the
	// task observes the cancellation.
	cause error
}

// NewTask creates a task driving fn and enqueues its first step onto
// loop. The flow never runs synchronously during construction.
func NewTask(loop *Loop, fn FlowFunc) *Task {
	t := &Task{}
	t.Future.init(loop)
	t.Future.guarded = true
	t.Future.owner = t
	t.Future.cancelHook = t.cancelRequest
	t.ctx = withTask(loop.ctx, t)
	fl := newFlow(t.ctx, t, fn)
	t.flow = fl
	t.name = fl.Name()
	runtime.SetFinalizer(t, finalizeTask)
	loop.CallSoon(t.step)
	t.Log("SPAWN")
	return t
}

// Spawn is shorthand for NewTask on this loop.
func (l *Loop) Spawn(fn FlowFunc) *Task {
	return NewTask(l, fn)
}

// Name returns the qualified name of the driven function.
func (t *Task) Name() string { return t.name }

// cancelRequest is the task's cancel hook, reached through
// Future.CancelWith while the task is pending. If the task is
// suspended on a future, the cancellation is forwarded there and the
// cascade rides the inner future; only if forwarding fails (or there
// is nothing to forward to) does the task mark itself cancelling.
func (t *Task) cancelRequest(cause error) bool {
	if cause != nil {
		t.cause = cause
	}
	if aw := t.awaiting; aw != nil {
		if aw.CancelWith(cause) {
			t.Log("CANCEL forwarded")
			return true
		}
	}
	t.state.set(flagCancelling)
	t.Log("CANCEL self")
	return true
}

// IsCancelling reports whether a requested cancellation has not yet
// been observed. While suspended it reflects the awaited future's
// cancellation state; once the task is done it is false.
func (t *Task) IsCancelling() bool {
	if t.state.isDone() {
		return false
	}
	if aw := t.awaiting; aw != nil {
		return aw.isCancellingDeep()
	}
	return t.state.has(flagCancelling)
}

// isCancellingDeep follows task ownership so a cancellation forwarded
// several awaits down is still visible at the top.
func (f *Future) isCancellingDeep() bool {
	if t, ok := f.owner.(*Task); ok {
		return t.IsCancelling() || t.IsCancelled()
	}
	return f.IsCancelling() || f.IsCancelled()
}

// step resumes the flow once, to its next suspension point or
// completion. It is invoked only from the loop's run queue: the
// construction enqueue, the self-reschedule after a non-blocking
// yield, and the wake callback.
func (t *Task) step() {
	if t.state.isDone() {
		if t.state.has(flagDestroyed) {
			return
		}
		reportUnhandled("step on finished task "+t.name,
			newInvalidState("step", t.state.kind().String()))
		return
	}

	region := trace.StartRegion(t.ctx, traceRegionType)
	prev := t.loop.current
	t.loop.current = t
	defer func() {
		t.loop.current = prev
		region.End()
	}()

	injected := false
	var st Step
	if t.state.has(flagCancelling) {
		t.state.clear(flagCancelling)
		injected = true
		t.Log("STEP inject-cancel")
		st = t.flow.ResumeWithCancel(t.cause)
	} else {
		t.Log("STEP")
		st = t.flow.Resume()
	}

	switch {
	case st.Done && st.Err == nil:
		if injected || t.state.has(flagCancelling) {
			// The flow swallowed a pending cancellation and finished
			// anyway: the task is still cancelled, with the produced
			// value attached as the cancellation's cause.
			cause := t.cause
			if st.Value != nil {
				cause = errors.Errorf("result %v discarded by cancellation", st.Value)
			}
			t.finishCancelled(cause)
			return
		}
		t.finishCompleted(st.Value)

	case st.Done && IsCancellation(st.Err):
		// The flow propagated the cancellation. A cause stored by
		// CancelWith gets the propagated signal linked beneath it.
		if t.cause != nil && !errors.Is(st.Err, t.cause) {
			t.finishCancelled(errors.WithMessage(st.Err, t.cause.Error()))
			return
		}
		t.finishCancelled(st.Err)

	case st.Done:
		// A real failure wins over a simultaneously pending
		// cancellation.
		t.finishFailed(st.Err)

	default:
		f, ok := st.Yield.(*Future)
		if !ok || !f.blocking {
			// Not a real suspension target: run again next cycle.
			t.loop.CallSoon(t.step)
			return
		}
		f.blocking = false
		f.addCallback(callback{fn: t.wake, key: funcKey(t.wake), owner: t})
		t.awaiting = f
		if t.state.has(flagCancelling) {
			// Cancellation arrived during the step; push it onto the
			// future we just suspended on.
			if f.CancelWith(t.cause) {
				t.state.clear(flagCancelling)
			}
		}
	}
}

// wake is the done-callback registered on the awaited future. It is
// the only path that resumes a suspended task.
func (t *Task) wake(*Future) {
	t.awaiting = nil
	t.step()
}

// DebugString renders the chain of awaits below this task, truncated
// at a cycle.
func (t *Task) DebugString() string {
	var sb strings.Builder
	seen := make(map[*Task]bool)
	cur := t
	for {
		if seen[cur] {
			sb.WriteString(" -> cycle")
			return sb.String()
		}
		seen[cur] = true
		fmt.Fprintf(&sb, "task %p %s [%s]", cur, cur.name, cur.state.kind())
		aw := cur.awaiting
		if aw == nil {
			return sb.String()
		}
		sub, ok := aw.owner.(*Task)
		if !ok {
			fmt.Fprintf(&sb, " -> future %p", aw)
			return sb.String()
		}
		sb.WriteString(" -> ")
		cur = sub
	}
}

// finalizeTask unwinds an abandoned flow so its defers run, then
// reports like any other future death.
func finalizeTask(t *Task) {
	t.state.set(flagDestroyed)
	if fl, ok := t.flow.(*Flow); ok {
		fl.abort()
	}
	finalizeFuture(&t.Future)
}
