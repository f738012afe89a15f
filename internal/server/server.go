// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/riskdesk/internal/config"
	"github.com/mbd888/riskdesk/internal/health"
	"github.com/mbd888/riskdesk/internal/idgen"
	"github.com/mbd888/riskdesk/internal/logging"
	"github.com/mbd888/riskdesk/internal/metrics"
	"github.com/mbd888/riskdesk/internal/ratelimit"
	"github.com/mbd888/riskdesk/internal/risk"
	"github.com/mbd888/riskdesk/internal/security"
	"github.com/mbd888/riskdesk/internal/validation"
)

// healthCheckTimeout bounds each /health checker run.
const healthCheckTimeout = 2 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	engine      *risk.Engine
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	version     string

	// Shutdown behavior
	drainDelay      time.Duration
	shutdownTimeout time.Duration
	onShutdown      []func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the build version reported by /health and /api
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// WithShutdownTimeout bounds how long in-flight requests may take to finish.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

// WithShutdownHook registers a function run after the HTTP server stops,
// such as the tracer provider shutdown.
func WithShutdownHook(fn func(context.Context) error) Option {
	return func(s *Server) {
		s.onShutdown = append(s.onShutdown, fn)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		engine:  risk.NewEngine(),
		health:  health.NewRegistry().WithTimeout(healthCheckTimeout),
		logger:  logging.New(cfg.LogLevel, cfg.LogFormat),
		version: "dev",

		drainDelay:      5 * time.Second,
		shutdownTimeout: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.health.Register("evaluator", s.evaluatorCheck)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	s.logger.Info("server configured",
		"env", cfg.Env,
		"input_policy", cfg.InputPolicy(),
		"max_batch_size", cfg.MaxBatchSize,
		"rate_limit_rpm", cfg.RateLimitRPM,
	)

	return s, nil
}

// evaluatorCheck runs the engine on a zero-signal account, which must
// always produce the baseline verdict.
func (s *Server) evaluatorCheck(_ context.Context) health.Status {
	v := s.engine.Evaluate(risk.Signals{})
	if v.RiskLevel != risk.TierLow || v.RiskScore != risk.BaselineScore || v.RecommendedAction != risk.ActionMonitor {
		return health.Status{
			Name:   "evaluator",
			Detail: fmt.Sprintf("baseline verdict is %s/%d/%s", v.RiskLevel, v.RiskScore, v.RecommendedAction),
		}
	}
	return health.Status{Name: "evaluator", Healthy: true}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		body := gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		}
		if s.cfg.IsDevelopment() {
			body["detail"] = fmt.Sprint(recovered)
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, body)
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rlCfg := ratelimit.DefaultConfig()
	rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	rlCfg.BurstSize = s.cfg.RateLimitBurst
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Honor an upstream ID (load balancer, caller) when well formed
		requestID := idgen.RequestID(c.GetHeader("X-Request-ID"))

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.Handler(s.version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	v1 := s.router.Group("/v1")
	risk.NewHandler(s.engine).
		WithInputPolicy(s.cfg.InputPolicy()).
		WithMaxBatchSize(s.cfg.MaxBatchSize).
		RegisterRoutes(v1)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No route for " + c.Request.Method + " " + c.Request.URL.Path,
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         "riskdesk",
		"description":  "Rule-based account risk scoring",
		"version":      s.version,
		"input_policy": s.cfg.InputPolicy(),
		"endpoints": []string{
			"POST /v1/risk/evaluate",
			"POST /v1/risk/evaluate/batch",
			"GET /v1/risk/rules",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", s.version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return errors.Join(fmt.Errorf("server error: %w", err), s.release(ctx))
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. Background work and shutdown hooks
// run even when the HTTP server fails to drain in time.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	errs = append(errs, s.release(ctx))

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// release stops background goroutines and runs every shutdown hook.
func (s *Server) release(ctx context.Context) error {
	s.stopBackground()

	var errs []error
	for _, fn := range s.onShutdown {
		if err := fn(ctx); err != nil {
			s.logger.Error("shutdown hook error", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) stopBackground() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
