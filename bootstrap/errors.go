package bootstrap

import (
	"errors"
	"fmt"

	"stageboot/storage"
)

// Phase names one step of Run.
type Phase string

const (
	PhasePreflight    Phase = "preflight"
	PhasePreInit      Phase = "PreInit"
	PhaseCoreServices Phase = "core-services"
	PhaseCoreInit     Phase = "CoreInit"
	PhaseAppServices  Phase = "app-services"
	PhaseAppInit      Phase = "AppInit"
	PhaseStart        Phase = "start"
	PhaseStartupTasks Phase = "startup-tasks"
)

// Phases returns every phase in execution order.
func Phases() []Phase {
	return []Phase{
		PhasePreflight, PhasePreInit, PhaseCoreServices, PhaseCoreInit,
		PhaseAppServices, PhaseAppInit, PhaseStart, PhaseStartupTasks,
	}
}

// Stage returns the migration stage a phase applies, if any.
func (p Phase) Stage() (storage.Stage, bool) {
	s, err := storage.ParseStage(string(p))
	if err != nil {
		return storage.StageNone, false
	}
	return s, true
}

var (
	// ErrMissingBinary is returned by preflight when a required executable
	// is not on PATH.
	ErrMissingBinary = errors.New("required binary not found")

	// ErrAlreadyRun is returned when Run is called a second time.
	ErrAlreadyRun = errors.New("orchestrator has already run")
)

// BootstrapFailure is returned by Run when a phase fails. By the time it is
// returned, everything registered so far has been released.
type BootstrapFailure struct {
	Phase Phase
	Cause error
}

func (f *BootstrapFailure) Error() string {
	return fmt.Sprintf("bootstrap failed at %s: %v", f.Phase, f.Cause)
}

func (f *BootstrapFailure) Unwrap() error { return f.Cause }

// IsBootstrapFailure reports whether err is or wraps a *BootstrapFailure.
func IsBootstrapFailure(err error) bool {
	var f *BootstrapFailure
	return errors.As(err, &f)
}
