package http

import (
	"context"
	"net/http"
	"os"
	"time"
)

// HealthStatus reports store reachability for the health endpoint.
type HealthStatus struct {
	Server  string `json:"server"`
	Status  string `json:"status"`
	Redis   bool   `json:"redis"`
	Storage bool   `json:"storage"`
	Time    string `json:"time"`
}

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health checks that the record store and blob store are reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	hostname, _ := os.Hostname()
	status := HealthStatus{
		Server: hostname,
		Status: StatusHealthy,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	// Memory-mode deployments run without Redis.
	status.Redis = true
	if h.Redis != nil {
		if err := h.Redis.Ping(ctx); err != nil {
			status.Redis = false
			status.Status = StatusUnhealthy
		}
	}

	status.Storage = true
	if err := h.Blobs.Ping(ctx); err != nil {
		status.Storage = false
		status.Status = StatusUnhealthy
	}

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
