package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ReleaseFailure is one resource that failed to release.
type ReleaseFailure struct {
	Name string
	Err  error
}

// TeardownError collects release failures. It is informational: teardown
// continues past every failure.
type TeardownError struct {
	Failures []ReleaseFailure
}

func (e *TeardownError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Name, f.Err))
	}
	return fmt.Sprintf("teardown: %d resource(s) failed to release: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual release errors to errors.Is and errors.As.
func (e *TeardownError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsTeardownError reports whether err carries release failures.
func IsTeardownError(err error) bool {
	var te *TeardownError
	return errors.As(err, &te)
}
