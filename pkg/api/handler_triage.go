package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/incidentkit/incidentkit/pkg/metrics"
	"github.com/incidentkit/incidentkit/pkg/models"
	"github.com/incidentkit/incidentkit/pkg/triage"
)

// triageHandler handles POST /api/v1/triage. Triage runs synchronously;
// the response carries the full result including degradation notes.
func (s *Server) triageHandler(c *gin.Context) {
	var req TriageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	if req.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name field is required"})
		return
	}
	if len(req.Message) > maxMessageSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: fmt.Sprintf("alert message exceeds maximum size of %d bytes", maxMessageSize),
		})
		return
	}

	start := time.Now()
	result, err := s.triager.Triage(c.Request.Context(), req.Alert())
	if err != nil {
		if errors.Is(err, triage.ErrInvalidAlert) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("Triage failed",
			"alert", req.Name,
			"service", req.Service,
			"error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	metrics.ObserveTriage(
		string(result.Classification.Severity),
		triageStatus(result),
		time.Since(start),
		result.Metrics.TotalTokens,
		result.Metrics.TotalCost,
	)

	c.JSON(http.StatusOK, result)
}

// triageStatus labels a result for metrics: degraded when any fallback
// or exhaustion note was recorded, completed otherwise.
func triageStatus(result *models.TriageResult) string {
	if len(result.Notes) > 0 {
		return "degraded"
	}
	return "completed"
}
