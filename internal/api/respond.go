package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	apperrors "github.com/alarmvault/alarmvault/internal/errors"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to encode response", zap.Error(err))
	}
}

// writeError answers with a sanitized message; the raw error stays in
// the server log only.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Warn("request failed",
		zap.Int("status", status),
		zap.Error(err))
	s.writeJSON(w, status, map[string]string{
		"error": apperrors.SanitizeError(err),
	})
}

// limitParam reads ?limit= with a default and upper bound
func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
