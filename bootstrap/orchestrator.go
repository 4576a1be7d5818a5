package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stageboot/config"
	"stageboot/logging"
	"stageboot/metrics"
	"stageboot/resource"
	"stageboot/service"
	"stageboot/storage"
)

// TracerName is the instrumentation name of the default tracer.
const TracerName = "stageboot/bootstrap"

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Logger logging.Logger
	Tracer trace.Tracer

	// Diagnostics receives the failure banner. Defaults to os.Stderr.
	Diagnostics io.Writer

	// LookPath resolves required binaries. Defaults to exec.LookPath.
	LookPath func(string) (string, error)

	// MigrateOnly stops Run after the AppInit migrations: services are
	// built but never started and no startup task runs.
	MigrateOnly bool
}

// BuildContext layers the configuration sources into a BootstrapContext.
func BuildContext(opts config.Options) (*config.BootstrapContext, error) {
	return config.Build(opts)
}

// Orchestrator drives one bootstrap run.
type Orchestrator struct {
	bctx     *config.BootstrapContext
	opts     Options
	logger   logging.Logger
	tracer   trace.Tracer
	diag     io.Writer
	registry *resource.Registry
	graph    *service.Graph
	stages   *storage.StageMachine

	mu         sync.Mutex
	ran        bool
	migrations []storage.Migration
	tasks      []StartupTask
	onReady    []func()
	store      *storage.Store
	runner     *storage.Runner

	ready        atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an orchestrator for bctx.
func New(bctx *config.BootstrapContext, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	logger = logger.Named("bootstrap").With("run_id", bctx.RunID())

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(TracerName)
	}
	diag := opts.Diagnostics
	if diag == nil {
		diag = os.Stderr
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}

	registry := resource.NewRegistry(logger.Named("resource"))
	graph := service.NewGraph(registry, logger.Named("service"))
	graph.SetStopTimeout(bctx.Settings().ShutdownTimeout)

	return &Orchestrator{
		bctx:     bctx,
		opts:     opts,
		logger:   logger,
		tracer:   tracer,
		diag:     diag,
		registry: registry,
		graph:    graph,
		stages:   storage.NewStageMachine(),
	}
}

// Context returns the bootstrap context the orchestrator was built with.
func (o *Orchestrator) Context() *config.BootstrapContext { return o.bctx }

// Resources returns the registry everything is released through.
func (o *Orchestrator) Resources() *resource.Registry { return o.registry }

// Graph returns the service graph.
func (o *Orchestrator) Graph() *service.Graph { return o.graph }

// Runner returns the migration runner, or nil before preflight completes.
func (o *Orchestrator) Runner() *storage.Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runner
}

// Store returns the state store, or nil before preflight completes.
func (o *Orchestrator) Store() *storage.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.store
}

// Stage returns the last migration stage entered.
func (o *Orchestrator) Stage() storage.Stage { return o.stages.Current() }

// Ready reports whether every phase has completed.
func (o *Orchestrator) Ready() bool { return o.ready.Load() }

// Track registers a release function with the resource registry. It is
// safe at any point, including after shutdown, when release runs at once.
func (o *Orchestrator) Track(name string, release func() error) {
	o.registry.Track(name, release)
}

func (o *Orchestrator) declare(what string, fn func()) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ran {
		return fmt.Errorf("cannot add %s: %w", what, ErrAlreadyRun)
	}
	fn()
	return nil
}

// AddMigration declares a migration. Migrations are validated when the
// runner is created during preflight.
func (o *Orchestrator) AddMigration(m storage.Migration) error {
	return o.declare("migration "+m.Name, func() { o.migrations = append(o.migrations, m) })
}

// AddService declares a service.
func (o *Orchestrator) AddService(def service.Definition) error {
	return o.graph.Provide(def)
}

// AddStartupTask declares a task to run after the graph starts.
func (o *Orchestrator) AddStartupTask(task StartupTask) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("startup task needs a name and a Run function")
	}
	return o.declare("startup task "+task.Name, func() { o.tasks = append(o.tasks, task) })
}

// OnReady registers fn to run once every phase has completed.
func (o *Orchestrator) OnReady(fn func()) error {
	if fn == nil {
		return fmt.Errorf("ready hook is nil")
	}
	return o.declare("ready hook", func() { o.onReady = append(o.onReady, fn) })
}

// Run executes the bootstrap phases in order. On failure no later phase
// runs; the failure is written to the diagnostics stream, everything
// registered so far is released, and a *BootstrapFailure is returned.
func (o *Orchestrator) Run(ctx context.Context) (*service.Graph, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	o.ran = true
	o.mu.Unlock()

	// Phases are not cancellable; only a failure stops a run.
	ctx = context.WithoutCancel(ctx)

	o.logger.Infow("Bootstrap starting",
		"data_dir", o.bctx.Paths().DataDir,
		"state_path", o.bctx.Paths().StatePath,
		"migrate_only", o.opts.MigrateOnly)

	steps := []struct {
		phase Phase
		fn    func(context.Context) error
	}{
		{PhasePreflight, o.preflight},
		{PhasePreInit, o.migrateStage(storage.PreInit)},
		{PhaseCoreServices, o.buildTier(service.Core)},
		{PhaseCoreInit, o.migrateStage(storage.CoreInit)},
		{PhaseAppServices, o.buildTier(service.App)},
		{PhaseAppInit, o.migrateStage(storage.AppInit)},
		{PhaseStart, o.startGraph},
		{PhaseStartupTasks, o.runStartupTasks},
	}

	for _, step := range steps {
		if o.opts.MigrateOnly && step.phase == PhaseStart {
			o.logger.Infow("Migrations applied, skipping start")
			return o.graph, nil
		}
		if err := o.runPhase(ctx, step.phase, step.fn); err != nil {
			return nil, o.fail(step.phase, err)
		}
	}

	o.ready.Store(true)
	for _, fn := range o.onReady {
		fn()
	}
	o.logger.Infow("Bootstrap complete", "services", len(o.graph.Names()))
	return o.graph, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, phase Phase, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "bootstrap."+string(phase),
		trace.WithAttributes(
			attribute.String("bootstrap.phase", string(phase)),
			attribute.String("bootstrap.run_id", o.bctx.RunID()),
		))
	defer span.End()

	start := time.Now()
	o.logger.Debugw("Phase starting", "phase", string(phase))

	err := fn(ctx)
	metrics.BootstrapPhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	o.logger.Infow("Phase completed", "phase", string(phase), "duration", time.Since(start))
	return nil
}

func (o *Orchestrator) fail(phase Phase, cause error) error {
	metrics.BootstrapFailures.WithLabelValues(string(phase)).Inc()
	failure := &BootstrapFailure{Phase: phase, Cause: cause}
	o.logger.Errorw("Bootstrap failed", "phase", string(phase), "error", cause)

	writeFailure(o.diag, failure, o.bctx.Paths().StatePath)

	if err := o.Shutdown(); err != nil {
		o.logger.Warnw("Teardown after failure reported errors", "error", err)
	}
	return failure
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	paths := o.bctx.Paths()
	if err := ensureDirectories(paths, o.logger); err != nil {
		return err
	}

	settings := o.bctx.Settings()
	if settings.SkipBinaryCheck {
		o.logger.Infow("Binary presence check skipped")
	} else if err := checkBinaries(settings.RequiredBinaries, o.opts.LookPath, o.logger); err != nil {
		return err
	}

	store, err := storage.Open(paths.StatePath, o.logger.Named("storage"))
	if err != nil {
		return fmt.Errorf("open state store %s: %w", paths.StatePath, err)
	}
	if _, err := o.registry.Register("state-store", store); err != nil {
		return err
	}

	runner := storage.NewRunner(store, o.logger.Named("migrations"))
	o.mu.Lock()
	o.store = store
	o.runner = runner
	migrations := append([]storage.Migration(nil), o.migrations...)
	o.mu.Unlock()

	for _, m := range migrations {
		if err := runner.Register(m); err != nil {
			return err
		}
	}
	return store.Ping(ctx)
}

func (o *Orchestrator) migrateStage(stage storage.Stage) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := o.stages.Advance(stage); err != nil {
			return err
		}
		env := storage.Env{Config: o.bctx}
		if o.graph.Built(service.Core) {
			env.Services = o.graph
		}
		records, err := o.Runner().ApplyStage(ctx, stage, env)
		if err != nil {
			return err
		}
		o.logger.Infow("Stage applied", "stage", stage.String(), "applied", len(records))
		return nil
	}
}

func (o *Orchestrator) buildTier(tier service.Tier) func(context.Context) error {
	return func(ctx context.Context) error {
		return o.graph.BuildTier(ctx, tier)
	}
}

func (o *Orchestrator) startGraph(ctx context.Context) error {
	return o.graph.Start(ctx)
}

func (o *Orchestrator) runStartupTasks(ctx context.Context) error {
	o.mu.Lock()
	tasks := append([]StartupTask(nil), o.tasks...)
	o.mu.Unlock()

	var group *taskGroup
	for _, task := range tasks {
		if task.Background {
			if group == nil {
				group = newTaskGroup(ctx, o.logger.Named("tasks"))
				timeout := o.bctx.Settings().ShutdownTimeout
				o.registry.Track("startup-tasks", func() error { return group.stop(timeout) })
			}
			o.logger.Infow("Starting background task", "task", task.Name)
			group.launch(task, o.graph)
			continue
		}

		o.logger.Infow("Running startup task", "task", task.Name)
		if err := runForeground(ctx, task, o.graph, o.logger); err != nil {
			if task.Optional {
				o.logger.Warnw("Optional startup task failed", "task", task.Name, "error", err)
				continue
			}
			return fmt.Errorf("startup task %s: %w", task.Name, err)
		}
	}
	return nil
}

// Shutdown releases every registered resource. It is idempotent and safe to
// call concurrently; only the first call does any work and every call
// returns its result.
func (o *Orchestrator) Shutdown() error {
	o.shutdownOnce.Do(func() {
		o.ready.Store(false)
		o.logger.Infow("Shutting down", "resources", len(o.registry.Pending()))
		o.shutdownErr = o.registry.ReleaseAll()
		if o.shutdownErr != nil {
			o.logger.Errorw("Shutdown completed with errors", "error", o.shutdownErr)
			return
		}
		o.logger.Infow("Shutdown complete")
	})
	return o.shutdownErr
}
