package api

// ErrorResponse is the envelope for all non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthCheck is the status of one dependency.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}
