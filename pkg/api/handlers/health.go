package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency the health check probes
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the state of the database and optional cache
type HealthHandler struct {
	db    Pinger
	cache Pinger
}

// NewHealthHandler creates a new health handler. cache may be nil.
func NewHealthHandler(db, cache Pinger) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Check godoc
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := map[string]string{
		"status":   "healthy",
		"database": "healthy",
		"cache":    "disabled",
	}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		resp["database"] = "unhealthy"
		resp["status"] = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	// the click store covers for the cache, so a cache outage only degrades
	if h.cache != nil {
		resp["cache"] = "healthy"
		if err := h.cache.Ping(ctx); err != nil {
			resp["cache"] = "unhealthy"
			if status == http.StatusOK {
				resp["status"] = "degraded"
			}
		}
	}

	return c.JSON(status, resp)
}
