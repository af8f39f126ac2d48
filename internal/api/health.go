package api

import (
	"net/http"
	"time"

	"discussd/internal/db"
)

// HealthHandler reports liveness of the service and its backing store.
type HealthHandler struct {
	database *db.DB
	started  time.Time
}

type healthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

func NewHealthHandler(database *db.DB) *HealthHandler {
	return &HealthHandler{database: database, started: time.Now()}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	dbStatus := "ok"

	if err := h.database.PingContext(r.Context()); err != nil {
		dbStatus = "error"
		status = http.StatusServiceUnavailable
	}

	result := "ok"
	if status != http.StatusOK {
		result = "degraded"
	}

	writeJSON(w, status, healthResponse{
		Status:        result,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Checks:        map[string]string{"database": dbStatus},
	})
}
