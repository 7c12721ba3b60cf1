package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"swapgrid/internal/refresher"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleAPIHealth reports the liveness view: store reachability, per-service
// statuses and the degraded flag.
func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	degraded := s.readAPI.Degraded(r.Context())

	status := "ok"
	if degraded {
		status = "degraded"
	}
	json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"degraded": degraded,
		"time":     time.Now().UTC().Format(time.RFC3339),
		"services": s.statuses.All(),
	})
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, r, http.StatusBadRequest, "Invalid parameter", "service", "missing required parameter")
		return
	}
	if _, ok := s.statuses.Get(service); !ok {
		writeError(w, r, http.StatusNotFound, "Unknown service", "service", service)
		return
	}
	hours, err := parseHoursParam(r, 24, 1, 168)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "Invalid parameter", "hours", err.Error())
		return
	}

	history := s.statuses.History(service, hours, time.Now())
	json.NewEncoder(w).Encode(map[string]any{
		"service":   service,
		"hours":     hours,
		"snapshots": history,
	})
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]any{
		"services": s.statuses.All(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCacheRefresh forces a supplementary snapshot refresh. Conflicts with
// an in-flight refresh instead of queueing behind it.
func (s *Server) handleCacheRefresh(w http.ResponseWriter, r *http.Request) {
	if s.supp == nil {
		writeError(w, r, http.StatusServiceUnavailable, "Supplementary fetcher disabled", "", "")
		return
	}
	if st, ok := s.statuses.Get(refresher.ServiceSupplementary); ok && st.Refreshing {
		writeError(w, r, http.StatusConflict, "Refresh already in progress", "", "")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := s.supp.Refresh(ctx); err != nil {
			log.Printf("[api] forced supplementary refresh failed: %v", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "refresh started"})
}
