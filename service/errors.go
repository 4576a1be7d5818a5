package service

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceNotFound is returned when a name has no definition, or its
	// service has not been built yet.
	ErrServiceNotFound = errors.New("service not found")

	// ErrDuplicateService is returned when a name is provided twice.
	ErrDuplicateService = errors.New("service already provided")

	// ErrDependencyCycle is returned when definitions depend on each other.
	ErrDependencyCycle = errors.New("service dependency cycle")

	// ErrTierViolation is returned when a core service depends on an app
	// service.
	ErrTierViolation = errors.New("core service depends on app service")

	// ErrTierBuilt is returned when providing to, or rebuilding, a tier that
	// has already been built.
	ErrTierBuilt = errors.New("service tier already built")

	// ErrInvalidDefinition is returned for a definition missing a name, a
	// build function or a tier.
	ErrInvalidDefinition = errors.New("invalid service definition")
)

// ServiceGraphError reports the service that could not be built and, when
// resolution failed, the dependency involved.
type ServiceGraphError struct {
	Service    string
	Dependency string
	Err        error
}

func (e *ServiceGraphError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("service %q: dependency %q: %v", e.Service, e.Dependency, e.Err)
	}
	return fmt.Sprintf("service %q: %v", e.Service, e.Err)
}

func (e *ServiceGraphError) Unwrap() error { return e.Err }
