// Package api exposes the triage engine over HTTP.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/incidentkit/incidentkit/pkg/database"
	"github.com/incidentkit/incidentkit/pkg/models"
)

// Triager runs one alert through the engine. Implemented by
// triage.Orchestrator; tests substitute a stub.
type Triager interface {
	Triage(ctx context.Context, alert models.Alert) (*models.TriageResult, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Host string
	Port int
}

// Server wires the engine and its dependencies to HTTP routes.
type Server struct {
	engine   *gin.Engine
	triager  Triager
	dbClient *database.Client
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer builds the route table. dbClient may be nil, in which case
// the health endpoint skips the database check.
func NewServer(cfg Config, triager Triager, dbClient *database.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), securityHeaders())

	s := &Server{
		engine:   engine,
		triager:  triager,
		dbClient: dbClient,
		logger:   logger,
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	engine.GET("/healthz", s.healthHandler)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	v1.POST("/triage", s.triageHandler)

	return s
}

// Handler returns the underlying router, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
