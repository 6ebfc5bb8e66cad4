package api

import "net/http"

// monitorResponse is the JSON response for GET /v1/monitor.
type monitorResponse struct {
	Enabled          bool      `json:"enabled"`
	CurrentErrorRate float64   `json:"current_error_rate"`
	Samples          []float64 `json:"samples"`
	Capacity         int       `json:"capacity"`
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, _ *http.Request) {
	m := s.engine.Monitor()
	if m == nil {
		s.writeJSON(w, http.StatusOK, monitorResponse{Samples: []float64{}})
		return
	}
	samples := m.Samples()
	if samples == nil {
		samples = []float64{}
	}
	s.writeJSON(w, http.StatusOK, monitorResponse{
		Enabled:          true,
		CurrentErrorRate: m.Current(),
		Samples:          samples,
		Capacity:         m.Capacity(),
	})
}
