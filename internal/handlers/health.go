package handlers

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// HealthHandler reports database reachability and the live connection count.
type HealthHandler struct {
	ping    func(ctx context.Context) error
	clients func() int
}

// NewHealthHandler creates a health handler. ping may be nil.
func NewHealthHandler(ping func(ctx context.Context) error, clients func() int) *HealthHandler {
	return &HealthHandler{ping: ping, clients: clients}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if h.clients != nil {
		body["connectedClients"] = h.clients()
	}

	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			log.WithError(err).Warn("Health check: database unreachable")
			body["status"] = "degraded"
			body["error"] = "database unavailable"
			respondWithJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	respondWithJSON(w, http.StatusOK, body)
}
