package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"stageboot/storage"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Warnw("Health check failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listMigrations(w http.ResponseWriter, r *http.Request) {
	if s.migrations == nil {
		writeJSON(w, http.StatusOK, []storage.MigrationRecord{})
		return
	}
	records, err := s.migrations.Applied(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list migrations", err, s)
		return
	}
	if records == nil {
		records = []storage.MigrationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs the full error and sends only message to the client.
func writeError(w http.ResponseWriter, code int, message string, err error, s *Server) {
	s.logger.Errorw(message, "error", err, "status_code", code)
	writeJSON(w, code, map[string]string{"error": message})
}
