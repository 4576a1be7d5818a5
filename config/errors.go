package config

import (
	"errors"
	"fmt"
)

// ConfigError reports malformed configuration or unusable paths. It is fatal
// and always raised before any migration runs.
type ConfigError struct {
	Key  string
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Key != "" && e.Path != "":
		return fmt.Sprintf("config error: %s (%s): %v", e.Key, e.Path, e.Err)
	case e.Key != "":
		return fmt.Sprintf("config error: %s: %v", e.Key, e.Err)
	case e.Path != "":
		return fmt.Sprintf("config error: %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("config error: %v", e.Err)
	}
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
