package storage

import (
	"fmt"
	"sync"
)

// Stage is a migration checkpoint in process readiness. Stages are totally
// ordered: PreInit < CoreInit < AppInit.
type Stage int

const (
	// StageNone is the state before any stage has been entered.
	StageNone Stage = iota
	// PreInit: configuration is available.
	PreInit
	// CoreInit: core services are constructed.
	CoreInit
	// AppInit: application services are wired.
	AppInit
)

// Stage names are persisted in stage_migrations and must never change.
var stageNames = map[Stage]string{
	PreInit:  "PreInit",
	CoreInit: "CoreInit",
	AppInit:  "AppInit",
}

// Stages returns every stage in order.
func Stages() []Stage {
	return []Stage{PreInit, CoreInit, AppInit}
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	if s == StageNone {
		return "None"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Valid reports whether s is one of the three migration stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// Next returns the stage that follows s, or StageNone after AppInit.
func (s Stage) Next() Stage {
	if s < AppInit {
		return s + 1
	}
	return StageNone
}

// ParseStage converts a persisted stage name into a Stage.
func ParseStage(name string) (Stage, error) {
	for s, n := range stageNames {
		if n == name {
			return s, nil
		}
	}
	return StageNone, fmt.Errorf("%w: %q", ErrUnknownStage, name)
}

// StageMachine gates forward-only movement through the stages.
type StageMachine struct {
	mu      sync.Mutex
	current Stage
}

// NewStageMachine returns a machine positioned before PreInit.
func NewStageMachine() *StageMachine {
	return &StageMachine{current: StageNone}
}

// Current returns the last stage entered.
func (m *StageMachine) Current() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance enters to, which must be the stage directly after the current one.
func (m *StageMachine) Advance(to Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !to.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStage, int(to))
	}
	if next := m.current.Next(); to != next {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrStageOrder, m.current, to)
	}
	m.current = to
	return nil
}
