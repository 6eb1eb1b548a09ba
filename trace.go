package fio

import (
	"fmt"
	"runtime/trace"
	"strings"
)

const (
	traceTaskType   = "fio-task"
	traceRegionType = "fio-step"
	traceCategory   = "fio"
)

// Log emits msg to the execution tracer, prefixed with the task
// identity and name. No-op unless tracing is enabled.
func (t *Task) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%p[%s] ", t, t.name)
		sb.WriteString(msg)
		trace.Log(t.ctx, traceCategory, sb.String())
	}
}

// Logf is Log with fmt.Sprintf formatting.
func (t *Task) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%p[%s] ", t, t.name)
		fmt.Fprintf(&sb, format, args...)
		trace.Log(t.ctx, traceCategory, sb.String())
	}
}

func (l *Loop) tracef(format string, args ...any) {
	if trace.IsEnabled() {
		trace.Logf(l.ctx, traceCategory, format, args...)
	}
}
