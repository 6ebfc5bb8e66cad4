package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/shard"
	"github.com/agent-7132/hybridsched/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 8 << 20 // 8 MB; payload rows travel in the body
)

// errorResponse is the JSON body of every error. Kind is set for scheduler
// failures.
type errorResponse struct {
	Error string            `json:"error"`
	Kind  model.FailureKind `json:"kind,omitempty"`
}

// statusForError maps scheduler errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidProblem), errors.Is(err, shard.ErrInvalidShardCount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}

	var f *model.Failure
	if !errors.As(err, &f) {
		return http.StatusInternalServerError
	}
	return statusForKind(f.Kind)
}

func statusForKind(kind model.FailureKind) int {
	switch kind {
	case model.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case model.KindResourceExhausted:
		return http.StatusTooManyRequests
	case model.KindComputeError:
		return http.StatusUnprocessableEntity
	case model.KindIntegrityFailure:
		return http.StatusBadGateway
	case model.KindSessionTimeout:
		return http.StatusGatewayTimeout
	case model.KindAborted:
		return http.StatusConflict
	case model.KindInvalidRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithField("error", err).Error("encode response")
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeFailure writes err with the status its failure kind maps to. Internal
// errors are logged and replaced by fallback.
func (s *Server) writeFailure(w http.ResponseWriter, err error, fallback string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		s.logger.WithField("error", err).Error(fallback)
		s.writeError(w, status, fallback)
		return
	}
	resp := errorResponse{Error: err.Error()}
	var f *model.Failure
	if errors.As(err, &f) {
		resp.Kind = f.Kind
	}
	s.writeJSON(w, status, resp)
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
