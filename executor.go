package fio

const (
	// ExecutorConcurrencyLimit bounds the number of worker threads a
	// loop's executor pool will run at once.
	ExecutorConcurrencyLimit = 128
)

// RunInExecutor runs fn on a worker thread and returns a Future that
// resolves with fn's outcome. The result crosses back onto the loop
// as a message; fn itself never touches loop-owned state. Cancelling
// the returned Future is advisory: a running fn is not interrupted,
// its late result is simply discarded.
func (l *Loop) RunInExecutor(fn func() (any, error)) *Future {
	f := NewFuture(l)

	go func() {
		l.execSema <- struct{}{}
		defer func() { <-l.execSema }()

		var v any
		var err error
		func() {
			defer func() {
				if p := recover(); p != nil {
					err = panicError(p)
				}
			}()
			v, err = fn()
		}()

		l.CallSoonThreadSafe(func() {
			switch {
			case err == nil:
				f.SetResultIfPending(v)
			case IsCancellation(err):
				// A worker that observed cancellation resolves the
				// future as cancelled, bypassing any cancel hook.
				if f.state.isPending() {
					f.finishCancelled(err)
				}
			default:
				f.SetExceptionIfPending(err)
			}
		})
	}()

	return f
}
