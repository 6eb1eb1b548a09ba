package fio

import "context"

// taskContextKey is a unique type used as a key for storing the
// running Task in a context.
type taskContextKey struct{}

// withTask returns a context carrying the task, so code deep inside a
// flow can find the task driving it.
func withTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, taskContextKey{}, t)
}

// TaskFromContext retrieves the Task carried by ctx, if any.
func TaskFromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskContextKey{}).(*Task)
	return t, ok
}

// MustTaskFromContext retrieves the Task carried by ctx, panicking if
// there is none. For call sites that only make sense inside a flow.
func MustTaskFromContext(ctx context.Context) *Task {
	t, ok := TaskFromContext(ctx)
	if !ok {
		panic("fio: task not found in context")
	}
	return t
}
