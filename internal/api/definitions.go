package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/stagecond/internal/registry"
	"github.com/soochol/stagecond/internal/stagecond"
)

func (s *Server) createDefinition(w http.ResponseWriter, r *http.Request) {
	var in registry.CreateDefinitionInput
	if !decode(w, r, &in) {
		return
	}
	def, err := s.registry.CreateDefinition(r.Context(), callerFrom(r), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	f := registry.DefinitionFilter{
		IsTools:   queryBool(r, "isTools"),
		IsEnabled: queryBool(r, "isEnabled"),
	}
	if v := r.URL.Query().Get("actionType"); v != "" {
		t, ok := stagecond.ParseActionType(v)
		if !ok {
			http.Error(w, "unknown actionType", http.StatusBadRequest)
			return
		}
		f.ActionType = t
	}
	defs, err := s.registry.ListDefinitions(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if defs == nil {
		defs = []*stagecond.ActionDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.registry.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) updateDefinition(w http.ResponseWriter, r *http.Request) {
	var in registry.UpdateDefinitionInput
	if !decode(w, r, &in) {
		return
	}
	def, err := s.registry.UpdateDefinition(r.Context(), callerFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteDefinition(r.Context(), callerFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// executeDefinition runs a definition directly. The body is the trigger
// context. A failed run still answers 200 with status Failed.
func (s *Server) executeDefinition(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if !decode(w, r, &data) {
		return
	}
	exec, err := s.runner.Run(r.Context(), callerFrom(r), chi.URLParam(r, "id"), data)
	if err != nil && exec == nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("execution audit incomplete", "execution_id", exec.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) listExecutions(w http.ResponseWriter, r *http.Request) {
	execs, err := s.runner.ListExecutions(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 50))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if execs == nil {
		execs = []*stagecond.ActionExecution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) getExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.runner.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
