// Package server exposes the pledge sync daemon over HTTP: lock status,
// manual sync, check-in intake, lock event streams, environment inspection
// and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearmind/pledge/v1/checkin"
	"github.com/clearmind/pledge/v1/lock"
	"github.com/clearmind/pledge/v1/watchbus"
)

const (
	// HealthPath answers liveness probes and is excluded from request logs.
	HealthPath = "/healthz"

	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
)

// Deps are the components the HTTP API serves.
type Deps struct {
	Lock   *lock.Processing
	Syncer *checkin.Syncer
	Outbox *checkin.Outbox
	Store  checkin.Store
	Events watchbus.WatchBus
}

// Server routes HTTP requests to the sync components.
type Server struct {
	deps      Deps
	gatherer  prometheus.Gatherer
	envKeys   []string
	lookupEnv func(string) (string, bool)
	now       func() time.Time
	logger    *slog.Logger
	router    *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves the gatherer's metrics on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithEnvKeys sets the environment variable names reported by /v1/env.
// lookup defaults to os.LookupEnv.
func WithEnvKeys(keys []string, lookup func(string) (string, bool)) Option {
	return func(s *Server) {
		s.envKeys = keys
		if lookup != nil {
			s.lookupEnv = lookup
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithNow sets the time source used for check-ins without a completion time.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the router for deps.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps:      deps,
		lookupEnv: os.LookupEnv,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(HealthPath, s.health).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	// Streams need the raw ResponseWriter for flushing and hijacking, so
	// they stay outside the logging middleware.
	if s.deps.Events != nil {
		key := lock.EventKey(s.deps.Lock.Name())
		r.Handle("/v1/events", withDefaultKey(key, watchbus.SSEHandler(s.deps.Events))).Methods(http.MethodGet)
		r.Handle("/v1/watch", withDefaultKey(key, watchbus.WebSocketHandler(s.deps.Events))).Methods(http.MethodGet)
	}

	// API routes live on the root router so a method mismatch answers 405.
	s.handle(r, http.MethodGet, "/v1/lock", s.getLock)
	s.handle(r, http.MethodPost, "/v1/sync", s.postSync)
	s.handle(r, http.MethodPost, "/v1/checkins", s.postCheckIn)
	s.handle(r, http.MethodGet, "/v1/habits/{habitID}/checkins", s.listCheckIns)
	s.handle(r, http.MethodGet, "/v1/env", s.getEnv)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})
	return r
}

func (s *Server) handle(r *mux.Router, method, path string, h http.HandlerFunc) {
	r.Handle(path, s.logRequests(h)).Methods(method)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Listen serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Listen(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	done := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}
	if err != nil {
		return fmt.Errorf("http listener %s: %w", addr, err)
	}
	s.logger.Info("http listener stopped", "addr", addr)
	return nil
}

func withDefaultKey(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") == "" {
			q := r.URL.Query()
			q.Set("key", key)
			r.URL.RawQuery = q.Encode()
		}
		next.ServeHTTP(w, r)
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	code int
}

func (w *loggingResponseWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(lrw, r)
		route := ""
		if cur := mux.CurrentRoute(r); cur != nil {
			route, _ = cur.GetPathTemplate()
		}
		s.logger.Info("request handled",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"response_code", lrw.code,
			"duration", time.Since(start),
		)
	})
}
