package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"stageboot/logging"
	"stageboot/storage"
	"stageboot/util/goroutine"
)

type fakeMigrations struct {
	records []storage.MigrationRecord
	err     error
}

func (f *fakeMigrations) Applied(context.Context) ([]storage.MigrationRecord, error) {
	return f.records, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(t *testing.T, cfg Config, m MigrationSource, p Pinger) *Server {
	return NewServer(cfg, m, p, logging.NewZap(zaptest.NewLogger(t)))
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.10:5555"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Config{}, nil, &fakePinger{})
	rr := do(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	s = newTestServer(t, Config{}, nil, &fakePinger{err: errors.New("database is locked")})
	rr = do(t, s, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "degraded")
}

func TestReadyz(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "/readyz").Code)

	s.SetReady(true)
	assert.True(t, s.Ready())
	assert.Equal(t, http.StatusOK, do(t, s, "/readyz").Code)
}

func TestListMigrations(t *testing.T) {
	applied := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestServer(t, Config{}, &fakeMigrations{records: []storage.MigrationRecord{
		{ID: 1, Name: "create_settings_table", Stage: storage.PreInit, StageName: "PreInit", Checksum: "abcd", AppliedAt: applied},
	}}, nil)

	rr := do(t, s, "/migrations")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var got []map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "create_settings_table", got[0]["name"])
	assert.Equal(t, "PreInit", got[0]["stage"])
}

func TestListMigrations_Empty(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeMigrations{}, nil)
	rr := do(t, s, "/migrations")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestListMigrations_ErrorIsNotLeaked(t *testing.T) {
	s := newTestServer(t, Config{}, &fakeMigrations{err: errors.New("open /var/lib/secret.db: permission denied")}, nil)
	rr := do(t, s, "/migrations")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "/var/lib")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)
	rr := do(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RateLimit: 0.001, Burst: 2}, nil, nil)

	assert.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, s, "/healthz").Code)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestStartStop(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	s := newTestServer(t, Config{Addr: "127.0.0.1:0", RateLimit: 100, Burst: 10}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/healthz", s.Addr()))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	client.CloseIdleConnections()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestStart_BindFailure(t *testing.T) {
	s1 := newTestServer(t, Config{Addr: "127.0.0.1:0"}, nil, nil)
	require.NoError(t, s1.Start(context.Background()))
	defer s1.Stop(context.Background())

	s2 := newTestServer(t, Config{Addr: s1.Addr()}, nil, nil)
	assert.Error(t, s2.Start(context.Background()))
}
