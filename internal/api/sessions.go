package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agent-7132/hybridsched/internal/model"
	"github.com/agent-7132/hybridsched/internal/store"
)

// createSessionRequest is the JSON body for POST /v1/sessions.
type createSessionRequest struct {
	Problem problemRequest `json:"problem"`
	Payload model.Payload  `json:"payload"`
	// Shards defaults to 1.
	Shards int `json:"shards"`
}

// listSessionsResponse wraps the paginated list response.
type listSessionsResponse struct {
	Sessions []*model.Session `json:"sessions"`
	Total    int              `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// resultResponse is the JSON response for GET /v1/sessions/{id}/result.
type resultResponse struct {
	SessionID string       `json:"session_id"`
	Result    model.Result `json:"result"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := req.Problem.descriptor()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Shards == 0 {
		req.Shards = 1
	}

	h, err := s.engine.ScheduleSharded(r.Context(), p, req.Payload, req.Shards)
	if err != nil {
		s.writeFailure(w, err, "failed to start session")
		return
	}

	sess, err := s.store.GetSession(r.Context(), h.ID())
	if err != nil {
		s.logger.WithField("error", err).Error("get created session")
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve session")
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+h.ID())
	s.writeJSON(w, http.StatusAccepted, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.WithField("error", err).Error("get session")
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	sessions, total, err := s.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.WithField("error", err).Error("list sessions")
		s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	if sessions == nil {
		sessions = []*model.Session{}
	}

	s.writeJSON(w, http.StatusOK, listSessionsResponse{
		Sessions: sessions,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleListShards(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		s.writeFailure(w, err, "failed to get session")
		return
	}
	records, err := s.store.ListShardRecords(r.Context(), id)
	if err != nil {
		s.logger.WithField("error", err).Error("list shard records")
		s.writeError(w, http.StatusInternalServerError, "failed to list shards")
		return
	}

	s.writeJSON(w, http.StatusOK, records)
}

// handleGetResult waits for a live session to settle. The timeout query
// parameter (a Go duration) bounds the wait; when it elapses the session is
// closed as timed out.
func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	timeout := s.engine.AggregationTimeout()
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "timeout must be a positive duration")
			return
		}
		timeout = d
	}

	h, ok := s.engine.Handle(id)
	if !ok {
		s.writeEndedResult(w, r, id)
		return
	}

	// The wait may outlast the server's write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(timeout + writeTimeout)); err != nil {
		s.logger.WithField("error", err).Warn("extend write deadline for result")
	}

	start := time.Now()
	res, err := h.GetResult(r.Context(), timeout)
	if r.Context().Err() != nil {
		return // Client disconnected.
	}
	status := http.StatusOK
	if err != nil {
		status = statusForError(err)
	}
	resultWaitDuration.WithLabelValues(strconv.Itoa(status)).Observe(time.Since(start).Seconds())

	if err != nil {
		s.writeFailure(w, err, "failed to get result")
		return
	}
	s.writeJSON(w, http.StatusOK, resultResponse{SessionID: id, Result: res})
}

// writeEndedResult answers a result request for a session with no live
// handle from its persisted record.
func (s *Server) writeEndedResult(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.WithField("error", err).Error("get session for result")
		s.writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	switch sess.Status {
	case model.StatusTimedOut:
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: sess.Error, Kind: model.KindSessionTimeout})
	case model.StatusAborted:
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: sess.Error, Kind: model.KindAborted})
	case model.StatusDelivered:
		s.writeError(w, http.StatusGone, "result already delivered")
	default:
		s.writeError(w, http.StatusGone, "session is no longer tracked by this process")
	}
}
