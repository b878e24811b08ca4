package api

import (
	"net/http"
	"time"
)

// statusResponse is the combined storage and monitor view
type statusResponse struct {
	Storage      storageStatusDTO `json:"storage"`
	MonitorState string           `json:"monitor_state"`
	Monitoring   bool             `json:"monitoring"`
	Sweeper      *sweeperDTO      `json:"sweeper,omitempty"`
}

type storageStatusDTO struct {
	HasPrimary  bool       `json:"has_primary"`
	HasEvents   bool       `json:"has_events"`
	BackupCount int        `json:"backup_count"`
	LastCheck   *time.Time `json:"last_check,omitempty"`
}

type sweeperDTO struct {
	LastRun *time.Time `json:"last_run,omitempty"`
	Passed  bool       `json:"passed"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := statusResponse{
		Storage: storageStatusDTO{
			HasPrimary:  status.HasPrimary,
			HasEvents:   status.HasEvents,
			BackupCount: status.BackupCount,
		},
		MonitorState: string(s.mon.State()),
		Monitoring:   s.mon.Running(),
	}
	if !status.LastCheck.IsZero() {
		t := status.LastCheck
		resp.Storage.LastCheck = &t
	}
	if s.sweeper != nil {
		lastRun, passed, nextRun := s.sweeper.Status()
		dto := &sweeperDTO{Passed: passed}
		if !lastRun.IsZero() {
			dto.LastRun = &lastRun
		}
		if !nextRun.IsZero() {
			dto.NextRun = &nextRun
		}
		resp.Sweeper = dto
	}

	s.writeJSON(w, http.StatusOK, resp)
}
