package fio

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrFlowAborted is the control-flow sentinel the flow driver uses to
// unwind an abandoned computation. It is reserved: passing it to
// CancelWith or SetException would be ambiguous with normal flow
// teardown and panics with a *ReservedSentinelError.
var ErrFlowAborted = errors.New("fio: flow aborted")

// InvalidStateError reports a disposition-setting operation applied to
// an entity that is already done, or a read that requires a terminal
// state applied to one that is still pending.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("fio: %s: invalid state %q", e.Op, e.State)
}

func newInvalidState(op, state string) *InvalidStateError {
	return &InvalidStateError{Op: op, State: state}
}

// CancelledError marks an observed cancellation. Cause, when non-nil,
// carries the value passed to CancelWith; a TimeoutError cause marks
// the cancellation as a timeout.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause != nil {
		return "fio: cancelled: " + e.Cause.Error()
	}
	return "fio: cancelled"
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func newCancelled(cause error) *CancelledError {
	return &CancelledError{Cause: cause}
}

// IsCancellation reports whether err is, or wraps, a cancellation.
// Timeouts count: a TimeoutError is a specialized cancellation cause.
func IsCancellation(err error) bool {
	var ce *CancelledError
	if errors.As(err, &ce) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}

// TimeoutError is the distinguishable cancellation cause used by
// ApplyTimeout, RepeatTimeout, and the wrappers' timed waits. There is
// no separate "timed out" state: a timed-out Future is a cancelled
// Future whose cause is a TimeoutError.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	if e.Cause != nil {
		return "fio: timeout: " + e.Cause.Error()
	}
	return "fio: timeout"
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// ReservedSentinelError is the panic payload for attempts to use a
// reserved control-flow sentinel as an exception or cancellation
// cause.
type ReservedSentinelError struct {
	Op string
}

func (e *ReservedSentinelError) Error() string {
	return fmt.Sprintf("fio: %s: ErrFlowAborted is reserved for flow teardown", e.Op)
}

// rejectSentinel panics if err is the reserved teardown sentinel.
// Misuse panics rather than returning an error: the caller is broken,
// not the future.
func rejectSentinel(op string, err error) {
	if errors.Is(err, ErrFlowAborted) {
		panic(&ReservedSentinelError{Op: op})
	}
}

// panicError converts a recovered panic value into an error carrying
// the recovery stack.
func panicError(p any) error {
	if err, ok := p.(error); ok {
		return errors.WithStack(err)
	}
	return errors.Errorf("panic: %v", p)
}
