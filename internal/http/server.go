// Package http serves the planner REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/planner/internal/logging"
	"github.com/fyrsmithlabs/planner/internal/services"
	"github.com/fyrsmithlabs/planner/internal/telemetry"
)

// Server provides HTTP endpoints for the planner.
type Server struct {
	echo    *echo.Echo
	svc     services.Service
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
	health  func() telemetry.HealthStatus
}

// Config holds HTTP server configuration.
type Config struct {
	Host      string
	Port      int
	BodyLimit string
}

// Option configures a Server.
type Option func(*Server)

// WithTelemetryHealth reports telemetry health on /health.
func WithTelemetryHealth(fn func() telemetry.HealthStatus) Option {
	return func(s *Server) { s.health = fn }
}

// NewServer creates a new HTTP server over svc.
func NewServer(svc services.Service, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("planner service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9090}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "2M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger.Named("http"),
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}
	for _, opt := range opts {
		opt(s)
	}

	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id on the context and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), rid)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/plans", s.handleGenerate)
	v1.GET("/plans", s.handleList)
	v1.GET("/plans/:id", s.handleGet)
	v1.GET("/plans/:id/artifact", s.handleArtifact)
	v1.GET("/plans/:id/audit", s.handleAudit)
	v1.GET("/plans/:id/lineage", s.handleLineage)
	v1.POST("/plans/:id/revisions", s.handleRevise)
	v1.POST("/plans/:id/validate", s.handleValidateStored)
	v1.POST("/compliance", s.handleValidate)
}

// ServeHTTP lets tests and embedders drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
