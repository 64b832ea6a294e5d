package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/stagecond/internal/services"
	"github.com/soochol/stagecond/internal/stagecond"
)

type conditionResponse struct {
	Condition *stagecond.StageCondition `json:"condition"`
	Warnings  []string                  `json:"warnings"`
}

type validationResponse struct {
	Valid    bool     `json:"valid"`
	Field    string   `json:"field,omitempty"`
	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings"`
}

func nonNil(warnings []string) []string {
	if warnings == nil {
		return []string{}
	}
	return warnings
}

func (s *Server) createCondition(w http.ResponseWriter, r *http.Request) {
	var in services.ConditionInput
	if !decode(w, r, &in) {
		return
	}
	c, warnings, err := s.conditions.Create(r.Context(), callerFrom(r), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conditionResponse{Condition: c, Warnings: nonNil(warnings)})
}

func (s *Server) listConditions(w http.ResponseWriter, r *http.Request) {
	cs, err := s.conditions.List(r.Context(), r.URL.Query().Get("stageId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if cs == nil {
		cs = []*stagecond.StageCondition{}
	}
	writeJSON(w, http.StatusOK, cs)
}

// validateCondition always answers 200; the body says whether the
// condition would be accepted.
func (s *Server) validateCondition(w http.ResponseWriter, r *http.Request) {
	var in services.ConditionInput
	if !decode(w, r, &in) {
		return
	}
	warnings, err := s.conditions.Validate(in)
	resp := validationResponse{Valid: err == nil, Warnings: nonNil(warnings)}
	if err != nil {
		if !stagecond.IsValidation(err) {
			s.writeServiceError(w, r, err)
			return
		}
		resp.Error = err.Error()
		var ve *stagecond.ValidationError
		if errors.As(err, &ve) {
			resp.Field = ve.Field
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getCondition(w http.ResponseWriter, r *http.Request) {
	c, err := s.conditions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCondition(w http.ResponseWriter, r *http.Request) {
	var in services.ConditionInput
	if !decode(w, r, &in) {
		return
	}
	c, warnings, err := s.conditions.Update(r.Context(), callerFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conditionResponse{Condition: c, Warnings: nonNil(warnings)})
}

func (s *Server) deleteCondition(w http.ResponseWriter, r *http.Request) {
	if err := s.conditions.Delete(r.Context(), callerFrom(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
