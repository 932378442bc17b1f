package api

import (
	"time"

	"github.com/incidentkit/incidentkit/pkg/models"
)

// maxMessageSize caps alert message payloads.
const maxMessageSize = 64 * 1024

// TriageRequest is the body of POST /api/v1/triage.
type TriageRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Service     string            `json:"service"`
	RawSeverity string            `json:"raw_severity"`
	Message     string            `json:"message"`
	Timestamp   time.Time         `json:"timestamp"`
	Labels      map[string]string `json:"labels"`
	Value       *float64          `json:"value"`
}

// Alert converts the request into the engine's alert type.
func (r TriageRequest) Alert() models.Alert {
	return models.Alert{
		ID:          r.ID,
		Name:        r.Name,
		Service:     r.Service,
		RawSeverity: r.RawSeverity,
		Message:     r.Message,
		Timestamp:   r.Timestamp,
		Labels:      r.Labels,
		Value:       r.Value,
	}
}
