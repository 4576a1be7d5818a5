package resource

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stageboot/logging"
)

type countingResource struct {
	releases atomic.Int32
	err      error
}

func (c *countingResource) Close() error {
	c.releases.Add(1)
	return c.err
}

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(logging.NewZap(zaptest.NewLogger(t)))
}

func TestRegistry_ReleaseAllReleasesEachOnce(t *testing.T) {
	reg := newTestRegistry(t)

	resources := make([]*countingResource, 5)
	for i := range resources {
		resources[i] = &countingResource{}
		_, err := reg.Register("res", resources[i])
		require.NoError(t, err)
	}

	require.NoError(t, reg.ReleaseAll())
	require.NoError(t, reg.ReleaseAll())

	for i, r := range resources {
		assert.Equal(t, int32(1), r.releases.Load(), "resource %d", i)
	}
	assert.Empty(t, reg.Pending())
	assert.True(t, reg.Closed())
}

func TestRegistry_ConcurrentReleaseAll(t *testing.T) {
	reg := newTestRegistry(t)

	resources := make([]*countingResource, 20)
	for i := range resources {
		resources[i] = &countingResource{}
		_, err := reg.Register("res", resources[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = reg.ReleaseAll()
		}()
	}
	close(start)
	wg.Wait()

	for i, r := range resources {
		assert.Equal(t, int32(1), r.releases.Load(), "resource %d", i)
	}
}

func TestRegistry_ConcurrentRegisterDuringTeardown(t *testing.T) {
	reg := newTestRegistry(t)

	const n = 50
	resources := make([]*countingResource, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		resources[i] = &countingResource{}
		wg.Add(1)
		go func(r *countingResource) {
			defer wg.Done()
			_, _ = reg.Register("racer", r)
		}(resources[i])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reg.ReleaseAll()
	}()
	wg.Wait()

	require.NoError(t, reg.ReleaseAll())
	for i, r := range resources {
		assert.Equal(t, int32(1), r.releases.Load(), "resource %d", i)
	}
}

func TestRegistry_FailuresAreCollectedNotFatal(t *testing.T) {
	reg := newTestRegistry(t)

	errA := errors.New("a failed")
	errC := errors.New("c failed")
	a := &countingResource{err: errA}
	b := &countingResource{}
	c := &countingResource{err: errC}

	_, _ = reg.Register("a", a)
	_, _ = reg.Register("b", b)
	_, _ = reg.Register("c", c)

	err := reg.ReleaseAll()
	require.Error(t, err)
	assert.True(t, IsTeardownError(err))

	var te *TeardownError
	require.ErrorAs(t, err, &te)
	require.Len(t, te.Failures, 2)
	assert.Equal(t, "c", te.Failures[0].Name)
	assert.Equal(t, "a", te.Failures[1].Name)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)

	assert.Equal(t, int32(1), b.releases.Load())
	assert.NoError(t, reg.ReleaseAll(), "failures are reported once")
}

func TestRegistry_PanickingReleaseDoesNotStopSweep(t *testing.T) {
	reg := newTestRegistry(t)

	store := &countingResource{}
	_, _ = reg.Register("store", store)
	reg.Track("service", func() error { panic("stop blew up") })

	var err error
	require.NotPanics(t, func() { err = reg.ReleaseAll() })

	var te *TeardownError
	require.ErrorAs(t, err, &te)
	require.Len(t, te.Failures, 1)
	assert.Equal(t, "service", te.Failures[0].Name)
	assert.Contains(t, te.Failures[0].Err.Error(), "stop blew up")

	assert.Equal(t, int32(1), store.releases.Load())
	assert.Empty(t, reg.Pending())
}

func TestHandle_ReleaseRecoversPanic(t *testing.T) {
	reg := newTestRegistry(t)
	boom := errors.New("boom")

	h, err := reg.RegisterFunc("x", func() error { panic(boom) })
	require.NoError(t, err)

	err = h.Release()
	assert.ErrorIs(t, err, boom)
	assert.True(t, h.Released())
	assert.NoError(t, reg.ReleaseAll())
}

func TestRegistry_ReleasesInReverseOrder(t *testing.T) {
	reg := newTestRegistry(t)

	var order []string
	for _, name := range []string{"logger", "store", "server"} {
		name := name
		reg.Track(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, reg.ReleaseAll())
	assert.Equal(t, []string{"server", "store", "logger"}, order)
}

func TestRegistry_RegisterAfterCloseReleasesImmediately(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, reg.ReleaseAll())

	late := &countingResource{}
	h, err := reg.Register("late", late)
	assert.ErrorIs(t, err, ErrRegistryClosed)
	require.NotNil(t, h)
	assert.True(t, h.Released())
	assert.Equal(t, int32(1), late.releases.Load())

	require.NoError(t, reg.ReleaseAll())
	assert.Equal(t, int32(1), late.releases.Load())
}

func TestHandle_EarlyRelease(t *testing.T) {
	reg := newTestRegistry(t)

	r := &countingResource{}
	h, err := reg.Register("early", r)
	require.NoError(t, err)
	assert.Equal(t, "early", h.Name())
	assert.False(t, h.Released())

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	require.NoError(t, reg.ReleaseAll())

	assert.True(t, h.Released())
	assert.Equal(t, int32(1), r.releases.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RejectsNil(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Register("nil", nil)
	assert.Error(t, err)
	_, err = reg.RegisterFunc("nil", nil)
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}
