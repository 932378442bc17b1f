package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incidentkit/incidentkit/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. Only the engine's own components
// are checked; the model provider is excluded so an upstream outage
// does not get the process restarted by its orchestrator.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient != nil {
		if pool, err := s.dbClient.CheckHealth(reqCtx); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy, Message: pool.String()}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
