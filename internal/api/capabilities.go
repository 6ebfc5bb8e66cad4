package api

import (
	"net/http"

	"github.com/agent-7132/hybridsched/internal/backend"
	"github.com/agent-7132/hybridsched/internal/model"
)

// problemRequest is the JSON form of a problem descriptor.
type problemRequest struct {
	Size             int    `json:"size"`
	Precision        string `json:"precision"`
	Depth            int    `json:"depth"`
	MemoryRequiredMB int    `json:"memory_required_mb"`
}

func (p problemRequest) descriptor() (model.ProblemDescriptor, error) {
	precision, err := model.ParsePrecision(p.Precision)
	if err != nil {
		return model.ProblemDescriptor{}, err
	}
	return model.NewProblem(p.Size, precision, p.Depth, p.MemoryRequiredMB)
}

// selectResponse is the JSON response for POST /v1/select.
type selectResponse struct {
	Backend  backend.BackendID   `json:"backend"`
	Eligible []backend.BackendID `json:"eligible"`
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.caps)
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

// handleSelect is a dry run of backend selection; nothing is executed.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req problemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := req.descriptor()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, selectResponse{
		Backend:  backend.Select(p, s.caps),
		Eligible: backend.Eligible(p, s.caps),
	})
}
