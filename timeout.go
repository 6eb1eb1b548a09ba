package fio

import "time"

// TimeoutScope is the handle inside RepeatTimeout. Each iteration of
// the guarded work calls Renew, which only updates a timestamp. The
// timer is never rearmed per iteration, avoiding churn on hot loops.
type TimeoutScope struct {
	fl       *Flow
	d        time.Duration
	handle   *TimerHandle
	renewed  time.Time
	lastFire time.Time
	fired    bool
}

// Renew marks the deadline as freshly earned. Cheap: a timestamp
// store, no timer traffic.
func (ts *TimeoutScope) Renew() {
	ts.renewed = time.Now()
}

// TimedOut reports whether the scope's timer cancelled the task.
func (ts *TimeoutScope) TimedOut() bool { return ts.fired }

// fire runs on the loop when the armed deadline passes. If a renewal
// happened since the last firing the timer rearms relative to it;
// otherwise the enclosing task is cancelled with a timeout.
func (ts *TimeoutScope) fire() {
	if ts.renewed.After(ts.lastFire) {
		ts.lastFire = time.Now()
		ts.handle = ts.fl.Loop().CallAtWeak(ts.renewed.Add(ts.d), ts.fire)
		return
	}
	ts.fired = true
	ts.fl.Task().CancelWith(&TimeoutError{})
}

// RepeatTimeout runs fn under a renewing deadline of d: as long as fn
// calls Renew at least once per period the timer stays quiet; if a
// full period passes without renewal the enclosing task is cancelled.
// A cancellation caused specifically by this timeout surfaces as a
// TimeoutError rather than leaking a bare cancellation. The timer is
// weak: it never keeps the loop alive on its own.
func (fl *Flow) RepeatTimeout(d time.Duration, fn func(ts *TimeoutScope) (any, error)) (any, error) {
	ts := &TimeoutScope{fl: fl, d: d, lastFire: time.Now()}
	ts.handle = fl.Loop().CallAfterWeak(d, ts.fire)

	v, err := fn(ts)

	ts.handle.Cancel()
	if ts.fired && err != nil && IsCancellation(err) {
		return nil, &TimeoutError{Cause: err}
	}
	return v, err
}
