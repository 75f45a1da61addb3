package api

import (
	"net/http"
)

func (s *Server) handleJudgeStats(w http.ResponseWriter, r *http.Request) {
	if s.judge == nil || s.judge.Stats == nil {
		jsonError(w, "judge stats unavailable", http.StatusServiceUnavailable)
		return
	}

	snap := s.judge.Stats.Snapshot()
	snap.Model = s.judge.Model()
	writeJSON(w, http.StatusOK, map[string]any{
		"model":       s.judge.Model(),
		"stats":       snap,
		"queue_depth": s.orchestrator.QueueDepth(),
	})
}
