package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStage is returned for a stage outside PreInit, CoreInit, AppInit.
	ErrUnknownStage = errors.New("unknown migration stage")

	// ErrStageOrder is returned when a stage is entered out of order.
	ErrStageOrder = errors.New("migration stage out of order")

	// ErrDuplicateMigration is returned when a (name, stage) pair is registered twice.
	ErrDuplicateMigration = errors.New("migration already registered for stage")

	// ErrInvalidMigration is returned for a migration with no name or no Up function.
	ErrInvalidMigration = errors.New("invalid migration")

	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("state store is closed")

	// ErrSettingNotFound is returned when a setting key is not present.
	ErrSettingNotFound = errors.New("setting not found")
)

// MigrationError reports the migration that stopped a stage. Migrations
// declared before it in the same stage are recorded; it and those after it
// are not.
type MigrationError struct {
	Name  string
	Stage Stage
	Err   error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %q (%s) failed: %v", e.Name, e.Stage, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }
