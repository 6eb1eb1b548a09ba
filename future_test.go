package fio

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFutureSetResult(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	r.True(f.IsPending())
	r.False(f.IsDone())
	r.False(f.IsCancelled())

	r.NoError(f.SetResult(42))
	r.False(f.IsPending())
	r.True(f.IsDone())
	r.False(f.IsCancelled())

	// Reading never consumes.
	for i := 0; i < 2; i++ {
		v, err := f.Result()
		r.NoError(err)
		r.Equal(42, v)
	}
	exc, err := f.Exception()
	r.NoError(err)
	r.NoError(exc)
}

func TestFutureDoubleResolve(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	r.NoError(f.SetResult(1))

	var ise *InvalidStateError
	r.ErrorAs(f.SetResult(2), &ise)
	r.ErrorAs(f.SetException(errors.New("late")), &ise)

	r.False(f.SetResultIfPending(3))
	r.False(f.SetExceptionIfPending(errors.New("later")))

	v, err := f.Result()
	r.NoError(err)
	r.Equal(1, v)
}

func TestFutureCancel(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	r.True(f.Cancel())
	r.True(f.IsCancelled())
	r.True(f.IsDone())

	// Cancelling a finished future reports false and stays silent.
	r.False(f.Cancel())

	_, err := f.Result()
	r.True(IsCancellation(err))
	var ce *CancelledError
	r.ErrorAs(err, &ce)

	exc, xerr := f.Exception()
	r.NoError(xerr)
	r.True(IsCancellation(exc))
}

func TestFutureCancelWithCause(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	boom := errors.New("boom")
	f := NewFuture(loop)
	r.True(f.CancelWith(boom))

	_, err := f.Result()
	r.True(IsCancellation(err))
	r.ErrorIs(err, boom)
}

func TestFutureSetException(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	boom := errors.New("boom")
	f := NewFuture(loop)
	r.NoError(f.SetException(boom))
	r.True(f.IsDone())
	r.False(f.IsCancelled())

	exc, err := f.Exception()
	r.NoError(err)
	r.ErrorIs(exc, boom)

	_, err = f.Result()
	r.ErrorIs(err, boom)
	r.False(IsCancellation(err))
}

func TestFuturePendingReads(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)

	var ise *InvalidStateError
	_, err := f.Result()
	r.ErrorAs(err, &ise)

	_, err = f.Exception()
	r.ErrorAs(err, &ise)

	f.Silence()
}

func TestFutureCallbackOrder(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	var order []int
	f.AddDoneCallback(func(*Future) { order = append(order, 1) })
	f.AddDoneCallback(func(*Future) { order = append(order, 2) })

	r.NoError(f.SetResult("x"))

	// Callbacks are scheduled, never invoked inline.
	r.Empty(order)

	// Late registration on a done future still goes through the queue.
	f.AddDoneCallback(func(*Future) { order = append(order, 3) })
	r.Empty(order)

	loop.RunUntilIdle()
	r.Equal([]int{1, 2, 3}, order)
}

func TestFutureRemoveDoneCallback(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	removedRuns := 0
	fn := func(*Future) { removedRuns++ }
	keptRuns := 0

	f.AddDoneCallback(fn)
	f.AddDoneCallback(fn)
	f.AddDoneCallback(func(*Future) { keptRuns++ })

	r.Equal(2, f.RemoveDoneCallback(fn))
	r.Equal(0, f.RemoveDoneCallback(fn))

	r.NoError(f.SetResult(nil))
	loop.RunUntilIdle()
	r.Equal(0, removedRuns)
	r.Equal(1, keptRuns)
}

func TestFutureApplyTimeoutImmediate(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	f.ApplyTimeout(0)
	r.True(f.IsCancelled())

	_, err := f.Result()
	r.True(IsCancellation(err))
	r.True(IsTimeout(err))
}

func TestFutureApplyTimeoutFires(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	f.ApplyTimeout(10 * time.Millisecond)
	r.True(f.IsPending())

	loop.RunUntilIdle()
	r.True(f.IsCancelled())
	_, err := f.Result()
	r.True(IsTimeout(err))
}

func TestFutureApplyTimeoutBeaten(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	f.ApplyTimeout(10 * time.Second)
	r.NoError(f.SetResult(7))

	// The pending cancellation is descheduled, so the loop goes idle
	// without waiting out the timer.
	start := time.Now()
	loop.RunUntilIdle()
	r.Less(time.Since(start), 5*time.Second)

	v, err := f.Result()
	r.NoError(err)
	r.Equal(7, v)
}

func TestFutureRejectsSentinel(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	r.Panics(func() { f.CancelWith(ErrFlowAborted) })
	r.Panics(func() { _ = f.SetException(ErrFlowAborted) })
	r.Panics(func() { _ = f.SetException(nil) })
	r.True(f.IsPending())
	f.Silence()
}

func TestResultOf(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	r.NoError(f.SetResult("hello"))

	s, err := ResultOf[string](f)
	r.NoError(err)
	r.Equal("hello", s)

	// Mistyped reads yield the zero value, not a panic.
	n, err := ResultOf[int](f)
	r.NoError(err)
	r.Equal(0, n)

	g := NewFuture(loop)
	g.Cancel()
	s, err = ResultOf[string](g)
	r.True(IsCancellation(err))
	r.Equal("", s)
}
