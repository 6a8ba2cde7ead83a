// Package api exposes the Orchestrator over HTTP: session lifecycle
// endpoints, a WebSocket event stream, an SSE fallback, and a Prometheus
// scrape endpoint.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r3labs/sse/v2"

	"github.com/reqflow/reqflow/pkg/metrics"
	"github.com/reqflow/reqflow/pkg/orchestrator"
)

// Config configures the HTTP surface.
type Config struct {
	// AllowedWSOrigins lists the origin host patterns the WebSocket upgrade
	// accepts for cross-origin requests. Same-origin requests and requests
	// without an Origin header are accepted either way; an empty list
	// rejects every cross-origin upgrade.
	AllowedWSOrigins []string
}

// Server is the HTTP API server, built on Echo.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        Config
	orch       *orchestrator.Orchestrator
	metrics    *metrics.Metrics
	sse        *sse.Server
}

// NewServer constructs a Server and registers every route.
func NewServer(cfg Config, orch *orchestrator.Orchestrator) *Server {
	e := echo.New()

	sseServer := sse.New()
	sseServer.AutoReplay = false
	sseServer.AutoStream = false

	s := &Server{
		echo: e,
		cfg:  cfg,
		orch: orch,
		sse:  sseServer,
	}
	s.setupRoutes()
	return s
}

// WithMetrics attaches a Metrics recorder and registers /metrics. Must be
// called before Start.
func (s *Server) WithMetrics(m *metrics.Metrics) *Server {
	s.metrics = m
	if m != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))
	}
	return s
}

func (s *Server) setupRoutes() {
	// 1 MB covers a generously long requirement_text submission without
	// opening the door to multi-MB bodies.
	s.echo.Use(middleware.BodyLimit(1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/sessions", s.startSessionHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/answer", s.submitAnswerHandler)
	v1.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	v1.GET("/sessions/:id/events", s.sseHandler)
	v1.GET("/sessions/:id/ws", s.wsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener. Used
// by tests that need a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{Status: "healthy"})
}
