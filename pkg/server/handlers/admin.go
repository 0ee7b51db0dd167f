package handlers

import (
	"net/http"
	"time"
)

// Health returns a health check handler
func (h *Handlers) Health(startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := map[string]interface{}{
			"status": "healthy",
			"uptime": time.Since(startTime).String(),
			"time":   time.Now().Format(time.RFC3339),
		}
		if h.hub != nil {
			result["changeStreams"] = h.hub.StreamCount()
		}
		writeSuccess(w, result)
	}
}

// GetDatabaseStats returns database, change stream and operation statistics
func (h *Handlers) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := h.db.Stats()
	if h.hub != nil {
		stats["change_streams"] = h.hub.Stats()
	}
	stats["operations"] = h.metrics.GetMetrics()
	stats["open_cursors"] = h.cursors.len()
	if h.options.ReportCache != nil {
		h.options.ReportCache.CleanupExpired()
		stats["report_cache"] = h.options.ReportCache.Stats()
	}
	writeSuccess(w, stats)
}

// ListCollections returns a list of all collections
func (h *Handlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]interface{}{
		"collections": h.db.ListCollections(),
	})
}
