package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/stagecond/internal/services"
	"github.com/soochol/stagecond/internal/stagecond"
)

// evaluateStage answers 202 when another evaluation of the same stage holds
// the lock, 200 otherwise.
func (s *Server) evaluateStage(w http.ResponseWriter, r *http.Request) {
	res, err := s.orchestrator.Evaluate(r.Context(), services.EvaluateRequest{
		InstanceID: chi.URLParam(r, "instanceId"),
		StageID:    chi.URLParam(r, "stageId"),
		Caller:     callerFrom(r),
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.InProgress {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) listEvaluations(w http.ResponseWriter, r *http.Request) {
	if s.retention == nil {
		http.Error(w, "evaluation logs not configured", http.StatusServiceUnavailable)
		return
	}
	logs, err := s.retention.ListLogs(r.Context(), chi.URLParam(r, "instanceId"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*stagecond.EvaluationLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) auditStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		http.Error(w, "audit queue not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.audit.Stats())
}
