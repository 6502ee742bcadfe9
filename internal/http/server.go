// Package http exposes the upload and question endpoints over echo.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docqa/internal/conversation"
	"github.com/fyrsmithlabs/docqa/internal/ingest"
	"github.com/fyrsmithlabs/docqa/internal/logging"
	"github.com/fyrsmithlabs/docqa/internal/session"
)

// Asker answers questions and exposes session history.
type Asker interface {
	Ask(ctx context.Context, req conversation.Request) (*conversation.Response, error)
	History(id string) ([]session.Turn, error)
}

// Uploader ingests an uploaded PDF.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*ingest.Result, error)
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	asker    Asker
	uploader Uploader
	logger   *logging.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	MaxUploadMB int
	// CORSOrigins defaults to every origin.
	CORSOrigins []string
}

// NewServer creates a new HTTP server.
func NewServer(asker Asker, uploader Uploader, logger *logging.Logger, cfg *Config) (*Server, error) {
	if asker == nil {
		return nil, fmt.Errorf("asker cannot be nil")
	}
	if uploader == nil {
		return nil, fmt.Errorf("uploader cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8000,
		}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 32
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		asker:    asker,
		uploader: uploader,
		logger:   logger,
		config:   cfg,
	}
	e.HTTPErrorHandler = s.handleError

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(NewHTTPMetrics(logger.Underlying()).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				// resolve the status before logging it
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	limit := middleware.BodyLimit(fmt.Sprintf("%dM", s.config.MaxUploadMB))
	s.echo.POST("/upload", s.handleUpload, limit)
	s.echo.POST("/ask", s.handleAsk)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/sessions/:id", s.handleSession)
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after a graceful shutdown.
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
