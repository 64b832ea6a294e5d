package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/stagecond"
)

// createMapping answers 201 for a new mapping and 200 when an identical
// mapping already existed.
func (s *Server) createMapping(w http.ResponseWriter, r *http.Request) {
	var in registry.CreateMappingInput
	if !decode(w, r, &in) {
		return
	}
	m, created, err := s.registry.CreateMapping(r.Context(), callerFrom(r), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, m)
}

func (s *Server) listMappings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := registry.MappingFilter{
		DefinitionID: q.Get("actionDefinitionId"),
		SourceID:     q.Get("triggerSourceId"),
		WorkflowID:   q.Get("workflowId"),
	}
	if v := q.Get("triggerType"); v != "" {
		t, ok := stagecond.ParseTriggerType(v)
		if !ok {
			http.Error(w, "unknown triggerType", http.StatusBadRequest)
			return
		}
		f.TriggerType = t
	}
	ms, err := s.registry.ListMappings(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if ms == nil {
		ms = []*stagecond.ActionTriggerMapping{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *Server) getMapping(w http.ResponseWriter, r *http.Request) {
	m, err := s.registry.GetMapping(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateMapping(w http.ResponseWriter, r *http.Request) {
	var in registry.UpdateMappingInput
	if !decode(w, r, &in) {
		return
	}
	m, err := s.registry.UpdateMapping(r.Context(), callerFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) deleteMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteMapping(r.Context(), callerFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type fireRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func (s *Server) fireTrigger(w http.ResponseWriter, r *http.Request) {
	tt, ok := stagecond.ParseTriggerType(chi.URLParam(r, "type"))
	if !ok {
		http.Error(w, "unknown trigger type", http.StatusBadRequest)
		return
	}
	var req fireRequest
	if !decode(w, r, &req) {
		return
	}
	execs, err := s.runner.Fire(r.Context(), callerFrom(r), tt, chi.URLParam(r, "sourceId"), req.Event, req.Data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if execs == nil {
		execs = []*stagecond.ActionExecution{}
	}
	writeJSON(w, http.StatusOK, execs)
}
