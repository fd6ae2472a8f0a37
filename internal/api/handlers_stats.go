package api

import (
	"encoding/json"
	"net/http"
)

// handleServiceStats reports rolling latency per model service plus the
// current queue depth.
func (s *Server) handleServiceStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		jsonError(w, "service stats unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"services":    s.stats.Snapshots(),
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
