package goroutine

import (
	"fmt"
	"os"
	"runtime"

	"stageboot/logging"
)

const (
	// StackTraceBufferSize is the buffer size for stack trace collection
	StackTraceBufferSize = 4096
)

// Recover recovers from panics in goroutines and logs them.
// If logger is nil, falls back to stderr so the panic is still recorded.
func Recover(name string, logger logging.Logger) {
	if r := recover(); r != nil {
		report(name, r, logger)
	}
}

// RecoverTo is Recover that also stores the panic as an error in *errp.
func RecoverTo(name string, logger logging.Logger, errp *error) {
	if r := recover(); r != nil {
		report(name, r, logger)
		if errp != nil {
			if err, ok := r.(error); ok {
				*errp = fmt.Errorf("%s panicked: %w", name, err)
			} else {
				*errp = fmt.Errorf("%s panicked: %v", name, r)
			}
		}
	}
}

// Go runs fn in a new goroutine guarded by Recover.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(name, logger)
		fn()
	}()
}

func report(name string, r interface{}, logger logging.Logger) {
	buf := make([]byte, StackTraceBufferSize)
	n := runtime.Stack(buf, false)

	if logger != nil && !logging.IsNop(logger) {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n",
		name, r, string(buf[:n]))
}
