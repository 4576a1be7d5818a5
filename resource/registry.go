// Package resource tracks everything acquired during bootstrap that must be
// released, and releases each of it exactly once.
package resource

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"stageboot/logging"
	"stageboot/metrics"
)

// ErrRegistryClosed is returned by Register once teardown has begun. The
// resource passed in has already been released when this error is returned.
var ErrRegistryClosed = errors.New("resource registry is closed")

// ReleaseFunc adapts a function to io.Closer.
type ReleaseFunc func() error

// Close calls f.
func (f ReleaseFunc) Close() error { return f() }

type entry struct {
	id       uint64
	name     string
	resource io.Closer
	released atomic.Bool
}

// release runs the resource's Close at most once across all callers. The
// boolean reports whether this call performed the release. A panic in Close
// is returned as an error.
func (e *entry) release() (did bool, err error) {
	if !e.released.CompareAndSwap(false, true) {
		return false, nil
	}
	metrics.ResourcesReleased.Inc()

	defer func() {
		if p := recover(); p != nil {
			if panicAsErr, ok := p.(error); ok {
				err = fmt.Errorf("release panicked: %w", panicAsErr)
			} else {
				err = fmt.Errorf("release panicked: %v", p)
			}
		}
	}()
	return true, e.resource.Close()
}

// Handle identifies one registered resource.
type Handle struct {
	e *entry
}

// Name returns the name the resource was registered under.
func (h *Handle) Name() string { return h.e.name }

// Released reports whether the resource has been released.
func (h *Handle) Released() bool { return h.e.released.Load() }

// Release releases this resource ahead of teardown. Later calls, including
// the one made by ReleaseAll, are no-ops.
func (h *Handle) Release() error {
	_, err := h.e.release()
	return err
}

// Registry is a concurrency-safe arena of disposable resources.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	nextID  uint64
	closed  bool
	logger  logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop("resource")
	}
	return &Registry{logger: logger}
}

// Register records r under name. After ReleaseAll has been called the
// resource is released immediately and ErrRegistryClosed is returned along
// with its (already released) handle.
func (r *Registry) Register(name string, res io.Closer) (*Handle, error) {
	if res == nil {
		return nil, fmt.Errorf("register %q: nil resource", name)
	}

	r.mu.Lock()
	r.nextID++
	e := &entry{id: r.nextID, name: name, resource: res}
	closed := r.closed
	if !closed {
		r.entries = append(r.entries, e)
	}
	r.mu.Unlock()

	h := &Handle{e: e}
	if closed {
		if _, err := e.release(); err != nil {
			r.logger.Warnw("Late resource failed to release", "resource", name, "error", err)
		}
		return h, ErrRegistryClosed
	}

	r.logger.Debugw("Resource registered", "resource", name, "id", e.id)
	return h, nil
}

// RegisterFunc is Register for a bare release function.
func (r *Registry) RegisterFunc(name string, release func() error) (*Handle, error) {
	if release == nil {
		return nil, fmt.Errorf("register %q: nil release function", name)
	}
	return r.Register(name, ReleaseFunc(release))
}

// Track registers release under name, logging instead of returning errors.
func (r *Registry) Track(name string, release func() error) {
	if _, err := r.RegisterFunc(name, release); err != nil {
		r.logger.Warnw("Resource tracked after teardown", "resource", name, "error", err)
	}
}

// Len returns the number of registered resources.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Pending returns the names of registered resources not yet released, in
// registration order.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, e := range r.entries {
		if !e.released.Load() {
			names = append(names, e.name)
		}
	}
	return names
}

// Closed reports whether ReleaseAll has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ReleaseAll releases every registered resource, most recently registered
// first. It may be called concurrently and repeatedly; each resource is
// released at most once. Release failures do not stop the sweep and are
// returned together as a *TeardownError.
func (r *Registry) ReleaseAll() error {
	r.mu.Lock()
	r.closed = true
	snapshot := make([]*entry, len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	var failures []ReleaseFailure
	for i := len(snapshot) - 1; i >= 0; i-- {
		e := snapshot[i]
		did, err := e.release()
		if !did {
			continue
		}
		if err != nil {
			metrics.TeardownErrors.Inc()
			r.logger.Errorw("Failed to release resource", "resource", e.name, "error", err)
			failures = append(failures, ReleaseFailure{Name: e.name, Err: err})
			continue
		}
		r.logger.Debugw("Resource released", "resource", e.name)
	}

	if len(failures) == 0 {
		return nil
	}
	return &TeardownError{Failures: failures}
}
