package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/cooldown/pkg/config"
	"mercator-hq/cooldown/pkg/limits"
	"mercator-hq/cooldown/pkg/telemetry/health"
	"mercator-hq/cooldown/pkg/telemetry/metrics"
	"mercator-hq/cooldown/pkg/telemetry/tracing"
)

// Limiter is the engine surface the admin API drives.
type Limiter interface {
	Check(ctx context.Context, featureID, scopeKey string) (limits.CheckResult, error)
	Consume(ctx context.Context, featureID, scopeKey string) (bool, error)
	ArmCooldownIfNeeded(ctx context.Context, featureID, scopeKey string) (bool, error)
	Reset(ctx context.Context, featureID, scopeKey string) error
	Usage(ctx context.Context, featureID, scopeKey string) (limits.UsageRecord, bool, error)
	Keys(ctx context.Context) ([]limits.Key, error)
	ArmedKeys() []limits.Key
	Resume(ctx context.Context) (int, error)
}

var _ Limiter = (*limits.Engine)(nil)

// Options carries the admin server's collaborators. Only Limiter is
// required.
type Options struct {
	Limiter Limiter
	Logger  *slog.Logger

	// Metrics exposes /metrics and records request metrics when set.
	Metrics     *metrics.Collector
	MetricsPath string

	// Health serves /healthz and /readyz when set.
	Health *health.Checker

	// Tracer wraps requests in server spans when set.
	Tracer trace.Tracer

	// Reload reloads policies for POST /v1/policies/reload.
	Reload func(ctx context.Context) error

	Version, Commit, BuildTime string
}

// Server is the admin HTTP server.
type Server struct {
	config     config.AdminConfig
	opts       Options
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	mu        sync.Mutex
	isRunning bool
	addr      net.Addr
}

// New creates an admin server.
func New(cfg config.AdminConfig, opts Options) (*Server, error) {
	if opts.Limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}

	s := &Server{
		config: cfg,
		opts:   opts,
		logger: opts.Logger.With("component", "server"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(s.requestID)
	if s.opts.Tracer != nil {
		r.Use(tracing.Middleware(s.opts.Tracer))
	}
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Requests().Middleware)
	}
	r.Use(s.logRequests)

	if s.opts.Health != nil {
		r.Get("/healthz", s.opts.Health.LivenessHandler())
		r.Get("/readyz", s.opts.Health.ReadinessHandler())
	}
	r.Get("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Metrics != nil {
		r.Handle(s.opts.MetricsPath, s.opts.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/limits", s.listUsage)
		r.Route("/limits/{feature}/{scope}", func(r chi.Router) {
			r.Use(s.keyContext)
			r.Get("/", s.check)
			r.Delete("/", s.reset)
			r.Post("/consume", s.consume)
			r.Post("/arm", s.arm)
		})
		r.Get("/cooldowns", s.listCooldowns)
		r.Post("/resume", s.resume)
		if s.opts.Reload != nil {
			r.Post("/policies/reload", s.reload)
		}
	})

	return r
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.addr = ln.Addr()
	s.isRunning = true
	s.mu.Unlock()

	s.logger.Info("admin server listening", "address", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.setStopped()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully stops the server within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	running := s.isRunning
	s.mu.Unlock()
	if !running || srv == nil {
		return nil
	}

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	err := srv.Shutdown(ctx)
	s.setStopped()
	if err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

func (s *Server) setStopped() {
	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
}

// IsRunning returns true while the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
