package api

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.mon.Metrics())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 20, 100)
	s.writeJSON(w, http.StatusOK, s.mon.History(limit))
}

func (s *Server) handleTamperEvents(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 50, 1000)
	s.writeJSON(w, http.StatusOK, s.mon.Events(limit))
}

type checkRequest struct {
	Owner string `json:"owner"`
}

// handleCheck runs one integrity check on demand. A check already in
// flight answers 409 with the previous result.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	owner := req.Owner
	if owner == "" {
		owner = s.mon.Owner()
	}

	result, err := s.mon.PerformIntegrityCheck(r.Context(), owner)
	if err != nil {
		if errors.Is(err, apperrors.ErrCheckInFlight) {
			s.writeJSON(w, http.StatusConflict, result)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}
