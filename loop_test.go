package fio

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestLoopCallSoonOrder(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	var order []int
	loop.CallSoon(func() { order = append(order, 1) })
	loop.CallSoon(func() { order = append(order, 2) })
	loop.CallSoon(func() { order = append(order, 3) })

	loop.RunUntilIdle()
	r.Equal([]int{1, 2, 3}, order)
}

func TestLoopCallbackSchedulesCallback(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	var order []string
	loop.CallSoon(func() {
		order = append(order, "outer")
		loop.CallSoon(func() { order = append(order, "inner") })
	})
	loop.CallSoon(func() { order = append(order, "sibling") })

	loop.RunUntilIdle()
	// Work queued by a callback runs in a later cycle, after the
	// handles that were already queued.
	r.Equal([]string{"outer", "sibling", "inner"}, order)
}

func TestLoopHandleCancel(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	ran := false
	h := loop.CallSoon(func() { ran = true })
	h.Cancel()
	r.True(h.Cancelled())

	loop.RunUntilIdle()
	r.False(ran)
}

func TestLoopTimers(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	var order []string
	loop.CallAfter(30*time.Millisecond, func() { order = append(order, "late") })
	loop.CallAfter(5*time.Millisecond, func() { order = append(order, "early") })
	loop.CallSoon(func() { order = append(order, "now") })

	loop.RunUntilIdle()
	r.Equal([]string{"now", "early", "late"}, order)
}

func TestLoopTimerCancel(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	ran := false
	h := loop.CallAfter(10*time.Second, func() { ran = true })
	h.Cancel()

	start := time.Now()
	loop.RunUntilIdle()
	r.False(ran)
	r.Less(time.Since(start), 5*time.Second)
}

func TestLoopWeakTimerDoesNotHoldIdle(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	ran := false
	loop.CallAfterWeak(10*time.Second, func() { ran = true })
	loop.CallSoon(func() {})

	start := time.Now()
	loop.RunUntilIdle()
	r.False(ran)
	r.Less(time.Since(start), time.Second)
}

func TestLoopThreadSafeWakesParkedRun(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	n := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		loop.CallSoonThreadSafe(func() {
			n++
			loop.Stop()
		})
	}()

	loop.Run()
	r.Equal(1, n)
}

func TestLoopRunUntilDone(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := NewFuture(loop)
	loop.CallAfter(5*time.Millisecond, func() { f.SetResultIfPending("ok") })

	v, err := loop.RunUntilDone(f)
	r.NoError(err)
	r.Equal("ok", v)
}

func TestLoopContextCancelStopsRun(t *testing.T) {
	r := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	loop.Run()
	r.Less(time.Since(start), 5*time.Second)
}

func TestLoopCallbackPanicIsReported(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	var where string
	var got error
	SetErrorReporter(func(w string, err error) {
		where = w
		got = err
	})
	defer SetErrorReporter(nil)

	after := false
	loop.CallSoon(func() { panic("kaboom") })
	loop.CallSoon(func() { after = true })

	loop.RunUntilIdle()
	r.True(after)
	r.NotEmpty(where)
	r.Error(got)
	r.Contains(got.Error(), "kaboom")
}

func TestRunInExecutor(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := loop.RunInExecutor(func() (any, error) {
		time.Sleep(5 * time.Millisecond)
		return 21 * 2, nil
	})

	v, err := loop.RunUntilDone(f)
	r.NoError(err)
	r.Equal(42, v)
}

func TestRunInExecutorError(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	boom := errors.New("boom")
	f := loop.RunInExecutor(func() (any, error) {
		return nil, boom
	})

	_, err := loop.RunUntilDone(f)
	r.ErrorIs(err, boom)
	r.False(f.IsCancelled())
}

func TestRunInExecutorPanic(t *testing.T) {
	r := require.New(t)
	loop := NewLoop(context.Background())

	f := loop.RunInExecutor(func() (any, error) {
		panic("worker blew up")
	})

	_, err := loop.RunUntilDone(f)
	r.Error(err)
	r.Contains(err.Error(), "worker blew up")
}
