// Package http exposes the error handler and the pattern review workflow
// over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/eventlog"
	"github.com/fyrsmithlabs/mender/internal/handler"
	"github.com/fyrsmithlabs/mender/internal/logging"
	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/signature"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// ActionCatalog reports whether a remediation action exists.
type ActionCatalog interface {
	Has(name string) bool
}

// Deps are the engine components served by the API.
type Deps struct {
	Handler  *handler.Handler
	Patterns pattern.Store

	// Actions validates attached remediations. Nil accepts any action.
	Actions ActionCatalog

	Version string
}

// Server provides HTTP endpoints for mender.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config
	now    func() time.Time
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Handler == nil {
		return nil, fmt.Errorf("error handler cannot be nil")
	}
	if deps.Patterns == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9190,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestID())
	e.Use(requestContext(logger))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}

	s.registerRoutes()

	return s, nil
}

// requestContext carries the request id into the request context and logs
// every request.
func requestContext(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return err
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/errors", s.handleReport)
	v1.POST("/signatures", s.handleSignature)
	v1.GET("/patterns/stats", s.handleStats)
	v1.GET("/patterns", s.handlePatterns)
	v1.PUT("/patterns/:id/remediation", s.handleAttach)
	v1.POST("/patterns/:id/outcomes", s.handleOutcome)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.deps.Version})
}

// handleReport pipes a reported error through the handler façade. The
// façade never fails, so the response is always 200 with stage flags.
func (s *Server) handleReport(c echo.Context) error {
	var req ReportRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid error report", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	opts := handler.Options{
		Source:         req.Source,
		Metadata:       req.Metadata,
		AttemptAutoFix: req.AttemptAutoFix,
		Silent:         req.Silent,
	}
	if req.Severity != "" {
		sev, err := eventlog.ParseSeverity(req.Severity)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		opts.Severity = sev
	}

	res := s.deps.Handler.HandleError(c.Request().Context(), signature.FromError(errors.New(req.Message)), opts)
	return c.JSON(http.StatusOK, res)
}

// handleSignature previews the signature of a message without recording it.
func (s *Server) handleSignature(c echo.Context) error {
	var req SignatureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	sig := signature.Normalize(req.Message, req.Source)
	return c.JSON(http.StatusOK, SignatureResponse{Signature: sig, PatternID: pattern.IDFor(sig)})
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.deps.Handler.Statistics(c.Request().Context())
	if err != nil {
		s.logger.Warn("statistics failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "pattern store unavailable")
	}
	return c.JSON(http.StatusOK, stats)
}

// handlePatterns returns the pattern for ?signature=, or the most recently
// seen patterns bounded by ?limit=.
func (s *Server) handlePatterns(c echo.Context) error {
	ctx := c.Request().Context()

	if sig := c.QueryParam("signature"); sig != "" {
		p, err := s.deps.Patterns.Get(ctx, sig)
		if err != nil {
			return s.storeError(err, "get pattern")
		}
		return c.JSON(http.StatusOK, p)
	}

	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		}
		limit = n
	}

	ps, err := s.deps.Patterns.List(ctx, limit)
	if err != nil {
		return s.storeError(err, "list patterns")
	}
	return c.JSON(http.StatusOK, PatternListResponse{Patterns: ps})
}

// handleAttach attaches a remediation descriptor after review.
func (s *Server) handleAttach(c echo.Context) error {
	var req AttachRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action field is required")
	}
	if s.deps.Actions != nil && !s.deps.Actions.Has(req.Action) {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
	}

	id := c.Param("id")
	p, err := s.deps.Patterns.AttachRemediation(c.Request().Context(), id, pattern.Descriptor{
		Action:            req.Action,
		Params:            req.Params,
		TrustedOnFirstUse: req.TrustedOnFirstUse,
		AttachedAt:        s.now().UTC(),
		AttachedBy:        req.AttachedBy,
	})
	if err != nil {
		return s.storeError(err, "attach remediation")
	}

	s.logger.Info("remediation attached",
		zap.String("pattern_id", id),
		zap.String("action", req.Action),
		zap.Bool("trusted_on_first_use", req.TrustedOnFirstUse),
		zap.String("attached_by", req.AttachedBy))
	return c.JSON(http.StatusOK, p)
}

// handleOutcome records the outcome of a remediation applied outside the
// engine, so manual fixes build evidence for automatic application.
func (s *Server) handleOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	outcome, err := pattern.ParseOutcome(req.Outcome)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p, err := s.deps.Patterns.IncrementOutcome(c.Request().Context(), c.Param("id"), outcome)
	if err != nil {
		return s.storeError(err, "record outcome")
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) storeError(err error, op string) error {
	if errors.Is(err, pattern.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	s.logger.Warn(op+" failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusServiceUnavailable, "pattern store unavailable")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
