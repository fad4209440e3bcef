package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/mrgun/server/pkg/responders"
)

// health returns service health status including database connectivity.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	uptime := now.Sub(serverStartTime)
	dbHealthy := h.store.Ping(ctx) == nil

	status := "ok"
	statusCode := http.StatusOK
	if !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable // 503
	}

	response := map[string]any{
		"status":    status,
		"uptime":    uptime.String(),
		"timestamp": now.UTC(),
		"dbHealthy": dbHealthy,
	}

	// Include route prefix for frontend discovery
	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	// Include enabled features
	features := []string{}
	if h.cfg.Callbacks.NotifyURL != "" {
		features = append(features, "billing-callbacks")
	}
	if h.cfg.Monitoring.LowBalanceAlertURL != "" {
		features = append(features, "balance-monitoring")
	}
	if h.cfg.RateLimit.PerOperatorEnabled {
		features = append(features, "operator-rate-limits")
	}
	if len(features) > 0 {
		response["features"] = features
	}

	responders.JSON(w, statusCode, response)
}
