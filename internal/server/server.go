// Package server provides the HTTP API for redactd: document
// detection, quota status, health, and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/admission"
	"github.com/fyrsmithlabs/redactd/internal/extraction"
	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/pkg/redaction"
)

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Server exposes the redactd HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	fanout    *fanout.Fanout
	extractor extraction.Extractor
	admission *admission.Controller
	logger    *logging.Logger
	config    Config

	// healthCheck reports telemetry degradation on /health, when set.
	healthCheck func() (bool, error)
}

// Option configures a Server.
type Option func(*Server)

// WithAdmission exposes quota usage on the status endpoint.
func WithAdmission(c *admission.Controller) Option {
	return func(s *Server) { s.admission = c }
}

// WithHealthCheck adds a telemetry health probe to /health.
func WithHealthCheck(fn func() (bool, error)) Option {
	return func(s *Server) { s.healthCheck = fn }
}

// NewServer builds the HTTP server around a configured fan-out.
func NewServer(f *fanout.Fanout, extractor extraction.Extractor, logger *logging.Logger, cfg Config, opts ...Option) (*Server, error) {
	if f == nil {
		return nil, fmt.Errorf("fanout cannot be nil")
	}
	if extractor == nil {
		return nil, fmt.Errorf("extractor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9282
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		fanout:    f,
		extractor: extractor,
		logger:    logger,
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/detect", s.handleDetect)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Telemetry string `json:"telemetry,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if s.healthCheck != nil {
		if _, err := s.healthCheck(); err != nil {
			resp.Telemetry = "degraded"
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Engines []string     `json:"engines"`
	Quota   *QuotaStatus `json:"quota,omitempty"`
}

// QuotaStatus reports the admission controller's counters.
type QuotaStatus struct {
	DailyCount      int       `json:"daily_count"`
	MaxDaily        int       `json:"max_daily"`
	ConcurrentCount int       `json:"concurrent_count"`
	MaxConcurrent   int       `json:"max_concurrent"`
	DailyResetTime  time.Time `json:"daily_reset_time"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{Engines: s.fanout.EngineNames()}
	if s.admission != nil {
		u := s.admission.Usage()
		resp.Quota = &QuotaStatus{
			DailyCount:      u.DailyCount,
			MaxDaily:        u.MaxDaily,
			ConcurrentCount: u.ConcurrentCount,
			MaxConcurrent:   u.MaxConcurrent,
			DailyResetTime:  u.DailyResetTime,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// DetectRequest is the request body for POST /api/v1/detect.
type DetectRequest struct {
	DocumentID string   `json:"document_id"`
	Content    string   `json:"content"`
	Types      []string `json:"types,omitempty"`

	// Deduplicate collapses duplicate spans in the returned mapping.
	Deduplicate bool `json:"deduplicate,omitempty"`
}

// DetectResponse is the response body for POST /api/v1/detect.
type DetectResponse struct {
	OperationID  string             `json:"operation_id"`
	Success      bool               `json:"success"`
	SuccessCount int                `json:"success_count"`
	FailureCount int                `json:"failure_count"`
	Engines      []EngineStatus     `json:"engines"`
	Entities     []redaction.Entity `json:"entities"`
	Mapping      redaction.Mapping  `json:"mapping"`
}

// EngineStatus reports one engine's outcome for the request.
type EngineStatus struct {
	Name        string `json:"name"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	EntityCount int    `json:"entity_count"`
}

func (s *Server) handleDetect(c echo.Context) error {
	var req DetectRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid detect request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}
	if req.DocumentID == "" {
		req.DocumentID = "adhoc"
	}
	if !logging.ValidID(req.DocumentID) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid document_id")
	}

	ctx := logging.WithDocumentID(c.Request().Context(), req.DocumentID)

	doc, err := s.extractor.Extract(ctx, req.DocumentID, strings.NewReader(req.Content))
	if err != nil {
		s.logger.Error(ctx, "extraction failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "extraction failed")
	}

	outcome, err := s.fanout.Run(ctx, fanout.Request{Document: doc, Types: req.Types})
	if err != nil {
		s.logger.Error(ctx, "detection unavailable", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no detection engines configured")
	}

	mapping := outcome.Mapping
	if req.Deduplicate {
		mapping = redaction.DeduplicateMapping(mapping)
	}

	resp := DetectResponse{
		OperationID:  outcome.OperationID,
		Success:      outcome.Success,
		SuccessCount: outcome.SuccessCount,
		FailureCount: outcome.FailureCount,
		Entities:     outcome.Entities,
		Mapping:      mapping,
	}
	for _, er := range outcome.Engines {
		es := EngineStatus{
			Name:        er.Name,
			Success:     er.Success,
			ElapsedMS:   er.Elapsed.Milliseconds(),
			EntityCount: er.EntityCount,
		}
		if er.Err != nil {
			es.Error = er.Err.Error()
		}
		resp.Engines = append(resp.Engines, es)
	}

	return c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
