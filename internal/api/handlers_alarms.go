package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/alarmvault/alarmvault/internal/alarm"
	apperrors "github.com/alarmvault/alarmvault/internal/errors"
	"github.com/alarmvault/alarmvault/internal/securestore"
)

// alarmsResponse includes the retrieval outcome so clients can tell
// an empty store from a corrupted one.
type alarmsResponse struct {
	Alarms         []alarm.Alarm       `json:"alarms"`
	Outcome        securestore.Outcome `json:"outcome"`
	Recovered      bool                `json:"recovered"`
	DroppedRecords int                 `json:"dropped_records,omitempty"`
}

func (s *Server) handleGetAlarms(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")

	result, err := s.store.RetrieveAlarms(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, alarmsResponse{
		Alarms:         result.Alarms,
		Outcome:        result.Outcome,
		Recovered:      result.Recovered,
		DroppedRecords: result.DroppedRecords,
	})
}

type putAlarmsRequest struct {
	Owner  string        `json:"owner"`
	Alarms []alarm.Alarm `json:"alarms"`
}

func (s *Server) handlePutAlarms(w http.ResponseWriter, r *http.Request) {
	var req putAlarmsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := s.store.StoreAlarms(r.Context(), req.Alarms, req.Owner)
	if err != nil {
		if errors.Is(err, apperrors.ErrStructuralCorruption) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteAlarm removes one alarm through the sanctioned path:
// retrieve, filter, store, then tell the monitor the deletion was
// deliberate so the next cycle does not flag it.
func (s *Server) handleDeleteAlarm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	owner := r.URL.Query().Get("owner")

	result, err := s.store.RetrieveAlarms(r.Context(), owner)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if result.Outcome == securestore.OutcomeDenied || result.Outcome == securestore.OutcomeCorrupted {
		s.writeError(w, http.StatusConflict,
			errors.New("alarm set is not readable: "+string(result.Outcome)))
		return
	}

	kept := make([]alarm.Alarm, 0, len(result.Alarms))
	found := false
	for _, a := range result.Alarms {
		if a.ID == id {
			found = true
			continue
		}
		kept = append(kept, a)
	}
	if !found {
		s.writeError(w, http.StatusNotFound, errors.New("alarm not found"))
		return
	}

	if _, err := s.store.StoreAlarms(r.Context(), kept, owner); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.mon.NoteSanctionedDeletion(id)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"deleted":   id,
		"remaining": len(kept),
	})
}

func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if s.chain == nil {
		s.writeError(w, http.StatusNotFound, errors.New("tamper log not configured"))
		return
	}
	limit := limitParam(r, 50, 1000)
	s.writeJSON(w, http.StatusOK, s.chain.Entries(limit))
}

// handleClearData wipes the primary payload, events and backups. The
// confirm header keeps a stray DELETE from destroying the store.
func (s *Server) handleClearData(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Confirm-Destroy") != "yes" {
		s.writeError(w, http.StatusPreconditionFailed,
			errors.New("destructive operation requires X-Confirm-Destroy: yes"))
		return
	}
	if err := s.store.ClearAllData(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
