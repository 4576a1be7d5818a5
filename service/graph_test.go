package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stageboot/logging"
)

// recordingTracker releases in reverse order like the resource registry.
type recordingTracker struct {
	mu       sync.Mutex
	names    []string
	releases []func() error
}

func (r *recordingTracker) Track(name string, release func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	r.releases = append(r.releases, release)
}

func (r *recordingTracker) releaseAll() error {
	var errs []error
	for i := len(r.releases) - 1; i >= 0; i-- {
		if err := r.releases[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type closer struct {
	name   string
	log    *[]string
	closed bool
}

func (c *closer) Close() error {
	c.closed = true
	*c.log = append(*c.log, "close:"+c.name)
	return nil
}

type runner struct {
	closer
	startErr error
	started  bool
}

func (r *runner) Start(context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	*r.log = append(*r.log, "start:"+r.name)
	return nil
}

func (r *runner) Stop(context.Context) error {
	*r.log = append(*r.log, "stop:"+r.name)
	return nil
}

func newTestGraph(t *testing.T) (*Graph, *recordingTracker) {
	tracker := &recordingTracker{}
	return NewGraph(tracker, logging.NewZap(zaptest.NewLogger(t))), tracker
}

func value(v string) func(context.Context, Deps) (interface{}, error) {
	return func(context.Context, Deps) (interface{}, error) { return v, nil }
}

func TestGraph_BuildsDependenciesFirst(t *testing.T) {
	g, _ := newTestGraph(t)
	var order []string
	def := func(name string, tier Tier, deps ...string) Definition {
		return Definition{Name: name, Tier: tier, DependsOn: deps, Build: func(_ context.Context, d Deps) (interface{}, error) {
			for _, dep := range deps {
				_, err := d.Get(dep)
				require.NoError(t, err)
			}
			order = append(order, name)
			return name, nil
		}}
	}

	require.NoError(t, g.Provide(def("cache", Core, "db")))
	require.NoError(t, g.Provide(def("db", Core)))
	require.NoError(t, g.Provide(def("api", App, "cache", "worker")))
	require.NoError(t, g.Provide(def("worker", App, "db")))

	ctx := context.Background()
	require.NoError(t, g.BuildTier(ctx, Core))
	assert.Equal(t, []string{"db", "cache"}, order)
	_, ok := g.Lookup("api")
	assert.False(t, ok, "app services are not built with the core tier")

	require.NoError(t, g.BuildTier(ctx, App))
	assert.Equal(t, []string{"db", "cache", "worker", "api"}, order)
	assert.Equal(t, order, g.Names())
	assert.Equal(t, "app", g.TierOf("api"))

	api, err := Resolve[string](g, "api")
	require.NoError(t, err)
	assert.Equal(t, "api", api)

	_, err = Resolve[int](g, "api")
	assert.Error(t, err)
}

func TestGraph_ProvideValidation(t *testing.T) {
	g, _ := newTestGraph(t)

	assert.ErrorIs(t, g.Provide(Definition{Tier: Core, Build: value("x")}), ErrInvalidDefinition)
	assert.ErrorIs(t, g.Provide(Definition{Name: "x", Tier: Core}), ErrInvalidDefinition)
	assert.ErrorIs(t, g.Provide(Definition{Name: "x", Build: value("x")}), ErrInvalidDefinition)

	require.NoError(t, g.Provide(Definition{Name: "x", Tier: Core, Build: value("x")}))
	assert.ErrorIs(t, g.Provide(Definition{Name: "x", Tier: App, Build: value("x")}), ErrDuplicateService)

	require.NoError(t, g.BuildTier(context.Background(), Core))
	assert.ErrorIs(t, g.Provide(Definition{Name: "late", Tier: Core, Build: value("late")}), ErrTierBuilt)
	assert.ErrorIs(t, g.BuildTier(context.Background(), Core), ErrTierBuilt)
}

func TestGraph_ResolutionErrors(t *testing.T) {
	tests := []struct {
		name    string
		defs    []Definition
		tier    Tier
		want    error
		service string
		dep     string
	}{
		{
			name:    "missing dependency",
			defs:    []Definition{{Name: "a", Tier: Core, DependsOn: []string{"ghost"}, Build: value("a")}},
			tier:    Core,
			want:    ErrServiceNotFound,
			service: "a",
			dep:     "ghost",
		},
		{
			name: "cycle",
			defs: []Definition{
				{Name: "a", Tier: Core, DependsOn: []string{"b"}, Build: value("a")},
				{Name: "b", Tier: Core, DependsOn: []string{"a"}, Build: value("b")},
			},
			tier:    Core,
			want:    ErrDependencyCycle,
			service: "a",
		},
		{
			name: "core depends on app",
			defs: []Definition{
				{Name: "core", Tier: Core, DependsOn: []string{"app"}, Build: value("core")},
				{Name: "app", Tier: App, Build: value("app")},
			},
			tier:    Core,
			want:    ErrTierViolation,
			service: "core",
			dep:     "app",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGraph(t)
			for _, d := range tt.defs {
				require.NoError(t, g.Provide(d))
			}
			err := g.BuildTier(context.Background(), tt.tier)
			require.ErrorIs(t, err, tt.want)

			var sge *ServiceGraphError
			require.ErrorAs(t, err, &sge)
			assert.Equal(t, tt.service, sge.Service)
			assert.Equal(t, tt.dep, sge.Dependency)
		})
	}
}

func TestGraph_BuildFailureIsWrapped(t *testing.T) {
	g, _ := newTestGraph(t)
	boom := errors.New("connection refused")
	require.NoError(t, g.Provide(Definition{Name: "db", Tier: Core, Build: func(context.Context, Deps) (interface{}, error) {
		return nil, boom
	}}))

	err := g.BuildTier(context.Background(), Core)
	assert.ErrorIs(t, err, boom)
	var sge *ServiceGraphError
	require.ErrorAs(t, err, &sge)
	assert.Equal(t, "db", sge.Service)
	assert.False(t, g.Built(Core))
}

func TestGraph_UndeclaredDependencyIsHidden(t *testing.T) {
	g, _ := newTestGraph(t)
	require.NoError(t, g.Provide(Definition{Name: "db", Tier: Core, Build: value("db")}))
	require.NoError(t, g.Provide(Definition{Name: "sneaky", Tier: Core, Build: func(_ context.Context, d Deps) (interface{}, error) {
		return d.Get("db")
	}}))

	err := g.BuildTier(context.Background(), Core)
	var sge *ServiceGraphError
	require.ErrorAs(t, err, &sge)
	assert.Equal(t, "sneaky", sge.Service)
}

func TestGraph_AppTierRequiresCore(t *testing.T) {
	g, _ := newTestGraph(t)
	assert.Error(t, g.BuildTier(context.Background(), App))
}

func TestGraph_TracksClosersAndRunnables(t *testing.T) {
	g, tracker := newTestGraph(t)
	var log []string

	db := &closer{name: "db", log: &log}
	borrowed := &closer{name: "borrowed", log: &log}
	api := &runner{closer: closer{name: "api", log: &log}}

	require.NoError(t, g.Provide(Definition{Name: "db", Tier: Core, Build: func(context.Context, Deps) (interface{}, error) { return db, nil }}))
	require.NoError(t, g.Provide(Definition{Name: "borrowed", Tier: Core, Unmanaged: true, Build: func(context.Context, Deps) (interface{}, error) { return borrowed, nil }}))
	require.NoError(t, g.Provide(Definition{Name: "api", Tier: App, DependsOn: []string{"db"}, Build: func(context.Context, Deps) (interface{}, error) { return api, nil }}))

	ctx := context.Background()
	require.NoError(t, g.BuildTier(ctx, Core))
	require.NoError(t, g.BuildTier(ctx, App))
	require.NoError(t, g.Start(ctx))
	require.NoError(t, g.Start(ctx), "second start is a no-op")

	assert.True(t, api.started)
	assert.Equal(t, []string{"service:db", "service:api", "stop:api"}, tracker.names)

	require.NoError(t, tracker.releaseAll())
	assert.Equal(t, []string{"start:api", "stop:api", "close:api", "close:db"}, log)
	assert.False(t, borrowed.closed)
}

func TestGraph_StartFailure(t *testing.T) {
	g, _ := newTestGraph(t)
	var log []string
	bad := &runner{closer: closer{name: "bad", log: &log}, startErr: errors.New("port in use")}
	require.NoError(t, g.Provide(Definition{Name: "bad", Tier: Core, Build: func(context.Context, Deps) (interface{}, error) { return bad, nil }}))
	require.NoError(t, g.BuildTier(context.Background(), Core))

	err := g.Start(context.Background())
	var sge *ServiceGraphError
	require.ErrorAs(t, err, &sge)
	assert.Equal(t, "bad", sge.Service)
	assert.Contains(t, err.Error(), "port in use")
}

// lookupRunnable resolves a sibling service when it starts.
type lookupRunnable struct {
	g     *Graph
	found string
}

func (l *lookupRunnable) Start(context.Context) error {
	v, err := Resolve[string](l.g, "config")
	l.found = v
	return err
}

func (l *lookupRunnable) Stop(context.Context) error { return nil }

func TestGraph_StartMayUseTheGraph(t *testing.T) {
	g, _ := newTestGraph(t)
	svc := &lookupRunnable{g: g}
	require.NoError(t, g.Provide(Definition{Name: "config", Tier: Core, Build: value("loaded")}))
	require.NoError(t, g.Provide(Definition{Name: "worker", Tier: App, Build: func(context.Context, Deps) (interface{}, error) { return svc, nil }}))

	ctx := context.Background()
	require.NoError(t, g.BuildTier(ctx, Core))
	require.NoError(t, g.BuildTier(ctx, App))

	done := make(chan error, 1)
	go func() { done <- g.Start(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start blocked while a service resolved another")
	}
	assert.Equal(t, "loaded", svc.found)
}
