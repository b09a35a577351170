package handlers

import (
	"net/http"
	"time"
)

// HealthResponse represents the health check response structure.
type HealthResponse struct {
	Status string    `json:"status"`
	Online int       `json:"online"`
	Uptime string    `json:"uptime"`
	Time   time.Time `json:"time"`
}

// Counter reports how many identities are online.
type Counter interface {
	Len() int
}

// HealthHandler answers liveness probes.
type HealthHandler struct {
	online  Counter
	started time.Time
}

// NewHealthHandler creates a HealthHandler. online may be nil.
func NewHealthHandler(online Counter) *HealthHandler {
	return &HealthHandler{online: online, started: time.Now()}
}

// HealthCheck handles GET /health for monitoring and load balancer checks.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
		Time:   time.Now().UTC(),
	}
	if h.online != nil {
		resp.Online = h.online.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}
