// Package worker provides the HTTP worker service for toolvault.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/tobyh/toolvault/internal/config"
	"github.com/tobyh/toolvault/internal/connection"
	"github.com/tobyh/toolvault/internal/scheduler"
	"github.com/tobyh/toolvault/internal/search"
	"github.com/tobyh/toolvault/internal/store"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody bounds ingest bodies; responses above the compression
	// threshold still fit with wide margin.
	MaxRequestBody = 10 << 20
)

// Service wires the connection, store, search and scheduler components
// behind an HTTP API.
type Service struct {
	version string

	conn      *connection.Manager
	store     *store.Manager
	search    *search.Manager
	scheduler *scheduler.Scheduler

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	reindexLimiter *ExpensiveOperationLimiter

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates the worker service. The vector store and embedding
// model are not dialed here; they initialize lazily on the first operation
// that needs them, so the health endpoint is available immediately.
func NewService(version string) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	conn := connection.NewManager()
	storeMgr := store.NewManager(conn)
	searchMgr := search.NewManager(conn, storeMgr)
	sched := scheduler.New(storeMgr, log.Logger)

	svc := &Service{
		version:        version,
		conn:           conn,
		store:          storeMgr,
		search:         searchMgr,
		scheduler:      sched,
		router:         chi.NewRouter(),
		startTime:      time.Now(),
		reindexLimiter: NewExpensiveOperationLimiter(),
		ctx:            ctx,
		cancel:         cancel,
	}

	svc.setupMiddleware()
	svc.setupRoutes()
	return svc
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBody))
	s.router.Use(RequireJSONContentType)
}

func (s *Service) setupRoutes() {
	// Liveness; answers even while the backend is unreachable.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/status", s.handleStatus)

	// Ingestion. Always 202: persistence is asynchronous and best-effort.
	s.router.Post("/api/ingest", s.handleIngest)

	// Read side.
	s.router.Get("/api/search", s.handleSearch)
	s.router.Get("/api/records/recent", s.handleRecent)
	s.router.Get("/api/records/{id}", s.handleRecord)
	s.router.Get("/api/collections", s.handleCollections)
	s.router.Get("/api/collections/{name}", s.handleCollection)
	s.router.Get("/api/collections/{name}/points/{id}", s.handleCollectionRecord)
	s.router.Get("/api/analytics", s.handleAnalytics)

	// Maintenance.
	s.router.Post("/api/admin/reindex", s.handleReindex)
	s.router.Post("/api/admin/cleanup", s.handleCleanup)
	s.router.Post("/api/admin/cache/clear", s.handleCacheClear)
	s.router.Get("/api/admin/scheduler", s.handleSchedulerStats)
	s.router.Post("/api/admin/reset", s.handleReset)
}

// Start launches the HTTP server, the reindex scheduler and the settings
// watcher. It returns once the listener goroutine is running.
func (s *Service) Start() error {
	port := config.GetWorkerPort()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	go s.scheduler.Start(s.ctx)

	go func() {
		if err := config.Watch(s.ctx); err != nil {
			log.Warn().Err(err).Msg("Settings watcher unavailable")
		}
	}()

	log.Info().
		Int("port", port).
		Str("version", s.version).
		Msg("Worker HTTP server started")
	return nil
}

// Shutdown drains the ingest queue and stops all components.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	s.scheduler.Stop()
	s.scheduler.Wait()

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.store.Close()
	s.search.Close()
	if err := s.conn.Close(); err != nil {
		log.Warn().Err(err).Msg("Connection close error")
	}

	log.Info().Msg("Worker service shutdown complete")
	return nil
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Service) Router() http.Handler { return s.router }
