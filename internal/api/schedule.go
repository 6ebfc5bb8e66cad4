package api

import (
	"net/http"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/model"
)

// scheduleRequest is the JSON body for POST /v1/schedule.
type scheduleRequest struct {
	Problem problemRequest `json:"problem"`
	Payload model.Payload  `json:"payload"`
}

// scheduleResponse is the JSON response for POST /v1/schedule.
type scheduleResponse struct {
	Backend  backend.BackendID   `json:"backend"`
	Attempts int                 `json:"attempts"`
	Excluded []backend.BackendID `json:"excluded,omitempty"`
	Result   model.Result        `json:"result"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := req.Problem.descriptor()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.engine.Schedule(r.Context(), p, req.Payload)
	if err != nil {
		s.writeFailure(w, err, "failed to schedule task")
		return
	}

	s.writeJSON(w, http.StatusOK, scheduleResponse{
		Backend:  out.Backend,
		Attempts: out.Attempts,
		Excluded: out.Excluded,
		Result:   out.Result,
	})
}
