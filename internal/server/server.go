// Package server exposes the bridge over a small HTTP API for catalog
// consumers. Every request drives the default session of the browser host.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PentesterFlow/WebviewBridge/internal/logger"
	"github.com/PentesterFlow/WebviewBridge/internal/metrics"
	"github.com/PentesterFlow/WebviewBridge/internal/ratelimit"
	"github.com/PentesterFlow/WebviewBridge/pkg/bridge"
)

// pruneInterval is how often idle per-client limiters are dropped.
const pruneInterval = time.Minute

// Server is the caller-facing HTTP route layer.
type Server struct {
	client   *bridge.Client
	settings Settings
	metrics  *metrics.Collector
	limiter  *ratelimit.Limiter
	log      *logger.Logger
	router   chi.Router

	mu   sync.Mutex
	http *http.Server
	stop chan struct{}
	once sync.Once
}

// New creates a server driving client. collector may be nil.
func New(client *bridge.Client, settings Settings, collector *metrics.Collector, log *logger.Logger) *Server {
	if collector == nil {
		collector = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Server{
		client:   client,
		settings: settings,
		metrics:  collector,
		limiter:  ratelimit.NewLimiter(settings.RateLimitRPS, settings.RateLimitBurst),
		log:      log.WithComponent("server"),
		stop:     make(chan struct{}),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(s.metrics))

	r.Group(func(r chi.Router) {
		r.Use(s.metricsMiddleware)
		r.Use(s.limiter.Middleware(func(*http.Request) { s.metrics.RecordRejected() }))

		r.Get("/fetch-page-data", s.handleFetchPageData)
		r.Get("/fetch-book-details-and-prices", s.handleFetchDetails)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe listens on the configured address and serves until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.settings.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	go s.pruneLoop()

	s.log.WithField("addr", ln.Addr().String()).
		WithField("session", s.client.DefaultSession()).
		Info("Route layer listening")

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.stop) })

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) pruneLoop() {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.limiter.Prune(10 * pruneInterval); n > 0 {
				s.log.Debugf("Pruned %d idle client limiters", n)
			}
		}
	}
}
