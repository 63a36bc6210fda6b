package http

// TokenResponse carries a freshly issued session token.
type TokenResponse struct {
	Token string `json:"token" example:"eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9..."`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" example:"Installation successful"`
}

// StatusResponse is returned by the demo health endpoint.
type StatusResponse struct {
	Status    string  `json:"status" example:"healthy"`
	Backend   string  `json:"backend" example:"go"`
	Timestamp float64 `json:"timestamp" example:"1700000000.123"`
}

// HealthResponse is returned by the liveness and readiness probes.
type HealthResponse struct {
	Status  string        `json:"status" example:"ok"`
	Uptime  string        `json:"uptime" example:"1h2m3s"`
	Version string        `json:"version" example:"0.1.0"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of critical dependencies.
type HealthChecks struct {
	Database string `json:"database" example:"ok"`
}
