// Package service constructs core and application services from declared
// definitions, in dependency order.
package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"stageboot/logging"
)

// Tier is the bootstrap step a service is constructed in.
type Tier int

const (
	// Core services are built before the CoreInit migrations.
	Core Tier = iota + 1
	// App services are built before the AppInit migrations and may depend on
	// core services.
	App
)

func (t Tier) String() string {
	switch t {
	case Core:
		return "core"
	case App:
		return "app"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Definition declares how to build one service.
type Definition struct {
	Name      string
	Tier      Tier
	DependsOn []string
	Build     func(ctx context.Context, deps Deps) (interface{}, error)

	// Unmanaged services are never handed to the Tracker; whoever created
	// the underlying resource releases it.
	Unmanaged bool
}

// Runnable is a built service with a start/stop lifecycle.
type Runnable interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Tracker takes ownership of release functions. resource.Registry
// satisfies it.
type Tracker interface {
	Track(name string, release func() error)
}

// Deps gives a Build function its declared dependencies.
type Deps struct {
	owner string
	allow map[string]bool
	built map[string]interface{}
}

// Get returns the dependency called name. Only names listed in DependsOn
// can be fetched.
func (d Deps) Get(name string) (interface{}, error) {
	if !d.allow[name] {
		return nil, &ServiceGraphError{Service: d.owner, Dependency: name, Err: fmt.Errorf("not declared in DependsOn")}
	}
	svc, ok := d.built[name]
	if !ok {
		return nil, &ServiceGraphError{Service: d.owner, Dependency: name, Err: ErrServiceNotFound}
	}
	return svc, nil
}

// DefaultStopTimeout bounds each Runnable's Stop during release.
const DefaultStopTimeout = 10 * time.Second

// Graph holds service definitions and the services built from them.
type Graph struct {
	mu          sync.RWMutex
	defs        map[string]Definition
	order       []string // provide order
	built       map[string]interface{}
	buildOrder  []string
	tiersBuilt  map[Tier]bool
	started     bool
	tracker     Tracker
	logger      logging.Logger
	stopTimeout time.Duration
}

// NewGraph creates an empty graph that hands built closers and started
// runnables to tracker.
func NewGraph(tracker Tracker, logger logging.Logger) *Graph {
	if logger == nil {
		logger = logging.Nop("service")
	}
	return &Graph{
		defs:        make(map[string]Definition),
		built:       make(map[string]interface{}),
		tiersBuilt:  make(map[Tier]bool),
		tracker:     tracker,
		logger:      logger,
		stopTimeout: DefaultStopTimeout,
	}
}

// SetStopTimeout changes how long each Runnable is given to stop.
func (g *Graph) SetStopTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d > 0 {
		g.stopTimeout = d
	}
}

// Provide adds a definition.
func (g *Graph) Provide(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if def.Build == nil {
		return fmt.Errorf("%w: %q has no build function", ErrInvalidDefinition, def.Name)
	}
	if def.Tier != Core && def.Tier != App {
		return fmt.Errorf("%w: %q has tier %s", ErrInvalidDefinition, def.Name, def.Tier)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.defs[def.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateService, def.Name)
	}
	if g.tiersBuilt[def.Tier] {
		return fmt.Errorf("%w: cannot provide %q to %s tier", ErrTierBuilt, def.Name, def.Tier)
	}
	def.DependsOn = append([]string(nil), def.DependsOn...)
	g.defs[def.Name] = def
	g.order = append(g.order, def.Name)
	return nil
}

// BuildTier builds every service of tier, dependencies first. Build
// functions must not call back into the graph.
func (g *Graph) BuildTier(ctx context.Context, tier Tier) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tiersBuilt[tier] {
		return fmt.Errorf("%w: %s", ErrTierBuilt, tier)
	}
	if tier == App && !g.tiersBuilt[Core] {
		return fmt.Errorf("core tier must be built before app tier")
	}

	visiting := make(map[string]bool)
	for _, name := range g.order {
		if g.defs[name].Tier != tier {
			continue
		}
		if err := g.build(ctx, tier, name, visiting, nil); err != nil {
			return err
		}
	}

	g.tiersBuilt[tier] = true
	g.logger.Infow("Service tier built", "tier", tier.String(), "services", g.countTier(tier))
	return nil
}

func (g *Graph) countTier(tier Tier) int {
	n := 0
	for _, name := range g.buildOrder {
		if g.defs[name].Tier == tier {
			n++
		}
	}
	return n
}

func (g *Graph) build(ctx context.Context, tier Tier, name string, visiting map[string]bool, path []string) error {
	if _, done := g.built[name]; done {
		return nil
	}
	def := g.defs[name]
	if visiting[name] {
		cycle := append(append([]string(nil), path...), name)
		return &ServiceGraphError{
			Service: name,
			Err:     fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(cycle, " -> ")),
		}
	}
	visiting[name] = true
	defer delete(visiting, name)
	path = append(path, name)

	for _, depName := range def.DependsOn {
		dep, ok := g.defs[depName]
		if !ok {
			return &ServiceGraphError{Service: name, Dependency: depName, Err: ErrServiceNotFound}
		}
		if def.Tier == Core && dep.Tier == App {
			return &ServiceGraphError{Service: name, Dependency: depName, Err: ErrTierViolation}
		}
		if dep.Tier != tier {
			// A lower tier is built in an earlier step.
			if _, ok := g.built[depName]; !ok {
				return &ServiceGraphError{Service: name, Dependency: depName, Err: ErrServiceNotFound}
			}
			continue
		}
		if err := g.build(ctx, tier, depName, visiting, path); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return &ServiceGraphError{Service: name, Err: err}
	}

	allow := make(map[string]bool, len(def.DependsOn))
	for _, d := range def.DependsOn {
		allow[d] = true
	}
	svc, err := def.Build(ctx, Deps{owner: name, allow: allow, built: g.built})
	if err != nil {
		return &ServiceGraphError{Service: name, Err: err}
	}
	if svc == nil {
		return &ServiceGraphError{Service: name, Err: fmt.Errorf("build returned nil")}
	}

	g.built[name] = svc
	g.buildOrder = append(g.buildOrder, name)
	if closer, ok := svc.(io.Closer); ok && !def.Unmanaged && g.tracker != nil {
		g.tracker.Track("service:"+name, closer.Close)
	}
	g.logger.Debugw("Service built", "service", name, "tier", def.Tier.String())
	return nil
}

// Start starts every built Runnable in build order. Each started service
// is handed to the tracker so it is stopped on release. The graph is not
// locked while services start, so Start may use Lookup and Resolve.
func (g *Graph) Start(ctx context.Context) error {
	type startable struct {
		name      string
		runnable  Runnable
		unmanaged bool
	}

	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = true
	var pending []startable
	for _, name := range g.buildOrder {
		if runnable, ok := g.built[name].(Runnable); ok {
			pending = append(pending, startable{name, runnable, g.defs[name].Unmanaged})
		}
	}
	tracker, timeout := g.tracker, g.stopTimeout
	g.mu.Unlock()

	for _, svc := range pending {
		if err := svc.runnable.Start(ctx); err != nil {
			return &ServiceGraphError{Service: svc.name, Err: fmt.Errorf("start failed: %w", err)}
		}
		g.logger.Infow("Service started", "service", svc.name)

		if svc.unmanaged || tracker == nil {
			continue
		}
		runnable, name := svc.runnable, svc.name
		tracker.Track("stop:"+name, func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := runnable.Stop(stopCtx); err != nil {
				return fmt.Errorf("stop %s: %w", name, err)
			}
			return nil
		})
	}
	return nil
}

// Get returns the built service called name.
func (g *Graph) Get(name string) (interface{}, error) {
	if svc, ok := g.Lookup(name); ok {
		return svc, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
}

// Lookup returns the built service called name.
func (g *Graph) Lookup(name string) (interface{}, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	svc, ok := g.built[name]
	return svc, ok
}

// Names returns built service names in build order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.buildOrder...)
}

// TierOf returns the tier name of a provided service, or "" if unknown.
func (g *Graph) TierOf(name string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	def, ok := g.defs[name]
	if !ok {
		return ""
	}
	return def.Tier.String()
}

// Built reports whether tier has been built.
func (g *Graph) Built(tier Tier) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tiersBuilt[tier]
}

// Resolve fetches the built service called name as a T.
func Resolve[T any](g *Graph, name string) (T, error) {
	var zero T
	svc, err := g.Get(name)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("service %q is %T, not %T", name, svc, zero)
	}
	return typed, nil
}
