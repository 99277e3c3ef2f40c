package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]any{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			status["status"] = "degraded"
			checks["database"] = "unreachable"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	JSON(w, statusCode, status)
}

// Status reports service counters, capabilities and event log statistics.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"service": h.svc.Status()}
	if h.repo != nil {
		stats, err := h.repo.Statistics(r.Context())
		if err != nil {
			slog.Warn("Failed to load event statistics", "error", err)
		} else {
			out["events"] = stats
		}
	}
	JSON(w, http.StatusOK, out)
}

// RecentEvents returns the newest event log entries, optionally by ?kind=.
func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		JSON(w, http.StatusOK, map[string]any{"events": []any{}})
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := h.repo.RecentEvents(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"events": events})
}
