// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vlsi/ksar/internal/parser"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	registry ReportRegistry
	started  time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, registry ReportRegistry) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		registry: registry,
		started:  time.Now(),
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":        "ok",
		"version":       h.version,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
		"dialects":      parser.GetGlobalRegistry().Names(),
	}
	if h.registry != nil {
		resp["parsedFiles"] = h.registry.Len()
		if stats, ok := h.registry.PersistStats(); ok {
			resp["persistence"] = stats
		}
	}
	return c.JSON(http.StatusOK, resp)
}
