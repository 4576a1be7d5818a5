package logging

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrAlreadyInitialized is returned by Init when a process logger is already
// installed.
var ErrAlreadyInitialized = errors.New("logging: process logger already initialized")

var (
	initialized atomic.Bool

	globalMu     sync.RWMutex
	globalLogger Logger
	globalCloser io.Closer

	rootNop = Nop("")
)

// Init installs the process-wide logger. Only the first call succeeds until
// Teardown is called.
func Init(opts Options) (Logger, error) {
	if !initialized.CompareAndSwap(false, true) {
		return nil, ErrAlreadyInitialized
	}

	logger, closer, err := New(opts)
	if err != nil {
		initialized.Store(false)
		return nil, err
	}

	globalMu.Lock()
	globalLogger = logger
	globalCloser = closer
	globalMu.Unlock()

	return logger, nil
}

// L returns the process-wide logger, or a no-op logger when none is installed.
func L() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return rootNop
	}
	return globalLogger
}

// Teardown flushes and removes the process-wide logger. It is safe to call
// when nothing is installed.
func Teardown() error {
	globalMu.Lock()
	closer := globalCloser
	globalLogger = nil
	globalCloser = nil
	globalMu.Unlock()

	initialized.Store(false)

	if closer == nil {
		return nil
	}
	return closer.Close()
}
