package fio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startLoop runs loop on its own goroutine and returns a join that
// stops it and waits for Run to return.
func startLoop(loop *Loop) (join func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run()
	}()
	return func() {
		loop.Stop()
		<-done
	}
}

func TestFutureWrapperMutationsAreMarshaled(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	w := WrapFuture(f)

	w.SetResultIfPending(5)
	// Staged, not applied: the owning loop has not run yet.
	r.True(f.IsPending())
	r.True(w.IsPending())

	v, err := loop.RunUntilDone(f)
	r.NoError(err)
	r.Equal(5, v)
	v, err = w.Result()
	r.NoError(err)
	r.Equal(5, v)
}

func TestFutureWrapperCancel(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	w := WrapFuture(f)
	w.Cancel()
	r.True(f.IsPending())

	_, err := loop.RunUntilDone(f)
	r.True(IsCancellation(err))
	r.True(w.IsCancelled())
}

func TestFutureWrapperGuardPanicsEagerly(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	gate := NewFuture(loop)
	task := loop.Spawn(func(_ context.Context, fl *Flow) (any, error) {
		return fl.Await(gate)
	})

	w := WrapFuture(task)
	r.Panics(func() { w.SetResult(1) })
	r.Panics(func() { w.SetException(nil) })

	gate.SetResultIfPending(nil)
	_, err := loop.RunUntilDone(task)
	r.NoError(err)
}

func TestFutureWrapperSyncWait(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())
	f := NewFuture(loop)
	join := startLoop(loop)
	defer join()

	loop.CallSoonThreadSafe(func() {
		loop.CallAfter(10*time.Millisecond, func() { f.SetResultIfPending(42) })
	})

	w := WrapSync(f)
	v, err := w.Wait(context.Background(), time.Second, false)
	r.NoError(err)
	r.Equal(42, v)
	r.True(w.IsDone())
}

func TestFutureWrapperSyncWaitDone(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	r.NoError(f.SetResult("ready"))

	// A done future needs no loop at all.
	v, err := WrapSync(f).Wait(context.Background(), 0, false)
	r.NoError(err)
	r.Equal("ready", v)
}

func TestFutureWrapperSyncTimeout(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())
	f := NewFuture(loop)
	join := startLoop(loop)
	defer join()

	w := WrapSync(f)
	_, err := w.Wait(context.Background(), 20*time.Millisecond, false)
	r.True(IsTimeout(err))
	// Without propagation the future is untouched.
	r.True(w.IsPending())
	f.Silence()
}

func TestFutureWrapperSyncPropagate(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())
	f := NewFuture(loop)
	join := startLoop(loop)
	defer join()

	w := WrapSync(f)
	_, err := w.Wait(context.Background(), 20*time.Millisecond, true)
	r.True(IsTimeout(err))
	r.True(IsCancellation(err))
	r.True(w.IsCancelled())
}

func TestFutureWrapperSyncContextInterrupt(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())
	f := NewFuture(loop)
	join := startLoop(loop)
	defer join()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	w := WrapSync(f)
	_, err := w.Wait(ctx, 0, false)
	r.ErrorIs(err, context.Canceled)
	r.True(w.IsPending())
	f.Silence()
}

func TestFutureWrapperAsync(t *testing.T) {
	r := require.New(t)
	owner := NewLoop(context.Background())
	waiter := NewLoop(context.Background())
	f := NewFuture(owner)
	join := startLoop(owner)
	defer join()

	owner.CallSoonThreadSafe(func() {
		owner.CallAfter(10*time.Millisecond, func() { f.SetResultIfPending("cross") })
	})

	task := waiter.Spawn(func(_ context.Context, fl *Flow) (any, error) {
		return WrapAsync(f, waiter).Wait(fl, time.Second, false)
	})

	v, err := waiter.RunUntilDone(task)
	r.NoError(err)
	r.Equal("cross", v)
}

func TestFutureWrapperAsyncPropagate(t *testing.T) {
	r := require.New(t)
	owner := NewLoop(context.Background())
	waiter := NewLoop(context.Background())
	f := NewFuture(owner)
	join := startLoop(owner)
	defer join()

	task := waiter.Spawn(func(_ context.Context, fl *Flow) (any, error) {
		return WrapAsync(f, waiter).Wait(fl, 20*time.Millisecond, true)
	})

	_, err := waiter.RunUntilDone(task)
	r.True(IsTimeout(err))
	// The owning loop reacted within the grace period.
	r.True(f.IsCancelled())
}

func TestFutureWrapperAsyncForeignLoopPanics(t *testing.T) {
	r := require.New(t)
	owner := NewLoop(context.Background())
	other := NewLoop(context.Background())
	third := NewLoop(context.Background())

	f := NewFuture(owner)
	w := WrapAsync(f, other)

	task := third.Spawn(func(_ context.Context, fl *Flow) (any, error) {
		return w.Wait(fl, 0, false)
	})

	_, err := third.RunUntilDone(task)
	r.Error(err)
	f.Silence()
}
