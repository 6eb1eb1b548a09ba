package fio

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrorReporter receives errors nobody else will ever observe:
// destruction diagnostics, panics escaping loop callbacks, steps
// scheduled against already-finished tasks. Implementations must be
// callable from any thread and must not panic.
type ErrorReporter func(where string, err error)

var errorReporter atomic.Value // ErrorReporter

func init() {
	errorReporter.Store(ErrorReporter(logrusReporter))
}

// SetErrorReporter replaces the unhandled-error sink. Passing nil
// restores the default logrus reporter.
func SetErrorReporter(r ErrorReporter) {
	if r == nil {
		r = logrusReporter
	}
	errorReporter.Store(r)
}

func logrusReporter(where string, err error) {
	logrus.WithError(err).Error("fio: " + where)
}

// reportUnhandled hands err to the configured sink. Diagnostics are
// best effort: a panicking reporter is swallowed so bookkeeping can
// never crash the owning loop.
func reportUnhandled(where string, err error) {
	defer func() {
		_ = recover()
	}()
	errorReporter.Load().(ErrorReporter)(where, err)
}
