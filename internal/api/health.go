package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Health reports the service's ability to do useful work. A ledger outage
// degrades the whole service because every counted operation fails closed
// without it.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := map[string]string{"quota_ledger": "ok"}

	if err := h.Ledger.Ping(ctx); err != nil {
		components["quota_ledger"] = "unavailable"
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
