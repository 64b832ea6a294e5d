package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/soochol/stagecond/internal/stagecond"
)

const (
	headerTenantID = "X-Tenant-Id"
	headerUserID   = "X-User-Id"
	headerUserName = "X-User-Name"

	maxBodyBytes = 1 << 20
)

// callerFrom builds the request's caller from identity headers. Requests
// without a user id act as the system user.
func callerFrom(r *http.Request) stagecond.Caller {
	return stagecond.Caller{
		TenantID: strings.TrimSpace(r.Header.Get(headerTenantID)),
		UserID:   strings.TrimSpace(r.Header.Get(headerUserID)),
		UserName: strings.TrimSpace(r.Header.Get(headerUserName)),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the service error taxonomy onto status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case stagecond.IsValidation(err), errors.Is(err, stagecond.ErrUnsupportedActionType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case stagecond.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, stagecond.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func queryBool(r *http.Request, key string) *bool {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
