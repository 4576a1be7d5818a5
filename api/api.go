// Package api serves the status endpoints of a bootstrapped process.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stageboot/logging"
	"stageboot/storage"
	"stageboot/util/goroutine"
)

// MigrationSource lists applied migrations.
type MigrationSource interface {
	Applied(ctx context.Context) ([]storage.MigrationRecord, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the status server.
type Config struct {
	Addr string
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64
	Burst     int
}

// rateLimiterEntry holds a client's limiter and when it was last used.
type rateLimiterEntry struct {
	limiter  limiter
	lastSeen time.Time
}

// Server exposes /healthz, /readyz, /migrations and /metrics.
type Server struct {
	cfg        Config
	router     *mux.Router
	server     *http.Server
	listener   net.Listener
	migrations MigrationSource
	store      Pinger
	logger     logging.Logger
	ready      atomic.Bool
	startedAt  time.Time

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	serveWg  sync.WaitGroup
}

// NewServer creates a status server. migrations and store may be nil.
func NewServer(cfg Config, migrations MigrationSource, store Pinger, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop("api")
	}
	s := &Server{
		cfg:          cfg,
		router:       mux.NewRouter(),
		migrations:   migrations,
		store:        store,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	if s.cfg.RateLimit > 0 {
		s.router.Use(s.rateLimitMiddleware)
	}
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	s.router.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	s.router.HandleFunc("/migrations", s.listMigrations).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler { return s.router }

// SetReady marks the process ready to serve.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Ready reports whether SetReady(true) has been called.
func (s *Server) Ready() bool { return s.ready.Load() }

// Start binds the listen address and serves in the background. Bind errors
// are returned; errors after that are logged.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("status server already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.RateLimit > 0 {
		goroutine.Go(s.logger, "rate-limiter-cleanup", s.cleanupRateLimiters)
	}

	s.serveWg.Add(1)
	goroutine.Go(s.logger, "status-server", func() {
		defer s.serveWg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Status server stopped unexpectedly", "error", err)
		}
	})

	s.logger.Infow("Status server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop gracefully shuts the server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.ready.Store(false)

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	s.serveWg.Wait()
	s.logger.Infow("Status server stopped")
	return err
}
