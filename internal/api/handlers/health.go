package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/cinvymoe/patrol_server/pkg/utils"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db        *sql.DB
	startedAt time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{
		db:        db,
		startedAt: time.Now(),
	}
}

// Health reports process health and database reachability.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
	}

	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			status["status"] = "degraded"
			status["database"] = err.Error()
			utils.RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}

	utils.RespondJSON(w, http.StatusOK, status)
}
