package errorutil

import "github.com/pkg/errors"

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// EarliestStackTrace walks the error chain and returns the stack trace
// captured closest to where things actually went wrong. Every pkg/errors
// wrapper records its own trace at wrap time, so the deepest one is the
// origin site; that is the trace --debug output wants.
func EarliestStackTrace(err error) errors.StackTrace {
	var deepest errors.StackTrace
	for err != nil {
		if tracer, ok := err.(stackTracer); ok {
			deepest = tracer.StackTrace()
		}

		next := errors.Unwrap(err)
		if next == nil {
			// pre-1.13 wrappers expose Cause only
			if causer, ok := err.(interface{ Cause() error }); ok {
				next = causer.Cause()
			}
		}
		if next == err {
			break
		}
		err = next
	}
	return deepest
}
