// Package http provides the deployment HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/deployd/internal/logging"
	"github.com/fyrsmithlabs/deployd/internal/orchestrator"
	"github.com/fyrsmithlabs/deployd/internal/task"
)

// Deployer runs deployment tasks.
type Deployer interface {
	Submit(ctx context.Context, req orchestrator.Request) (task.Task, error)
	Status(ctx context.Context, taskID string) (task.Task, []task.Task, error)
	Counts(ctx context.Context) (map[task.Status]int, error)
	Health() orchestrator.Health
}

// Pinger reports whether a collaborator can serve requests.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the deployment endpoints.
type Server struct {
	echo     *echo.Echo
	deployer Deployer
	checks   map[string]Pinger
	secrets  []string
	logger   *logging.Logger
	config   *Config
	started  time.Time
	sites    echo.HandlerFunc
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is the sustained requests per second allowed per client.
	RateLimit float64
	RateBurst int

	MaxBodyBytes int64

	// SitesRoot, when set, is served under /sites/.
	SitesRoot string

	Version string
}

// NewServer creates a new HTTP server. checks are pinged by /health and
// keyed by component name. secrets are the accepted shared secrets.
func NewServer(deployer Deployer, checks map[string]Pinger, secrets []string, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deployer == nil {
		return nil, errors.New("deployer cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 8000}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		deployer: deployer,
		checks:   checks,
		secrets:  secrets,
		logger:   logger.Named("http"),
		config:   cfg,
		started:  time.Now(),
	}

	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(s.requestLogger)
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", cfg.MaxBodyBytes)))
	if cfg.RateLimit > 0 {
		e.Use(s.rateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst))
	}

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/deploy", s.handleDeploy)
	s.echo.POST("/update", s.handleUpdate)
	s.echo.GET("/status/:task_id", s.handleStatus)

	if s.config.SitesRoot != "" {
		s.sites = echo.StaticDirectoryHandler(os.DirFS(s.config.SitesRoot), false)
		s.echo.GET("/sites/*", s.handleSite)
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) rateLimiter(limit rate.Limit, burst int) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      limit,
			Burst:     burst,
			ExpiresIn: time.Hour,
		}),
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			s.logger.Warn(c.Request().Context(), "rate limit exceeded", zap.String("ip", identifier))
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Error:  "RATE_LIMITED",
				Detail: "Rate limit exceeded",
			})
		},
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
