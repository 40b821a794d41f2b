package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/JonMunkholm/geoload/internal/logging"
	"github.com/JonMunkholm/geoload/internal/schema"
	"github.com/JonMunkholm/geoload/internal/store"
	"github.com/go-chi/chi/v5"
)

// communeFields returns the candidate commune columns for a read-back: the
// requested field, or the configured one, then the usual fallbacks.
func (s *Server) communeFields(r *http.Request) []string {
	first := r.URL.Query().Get("field")
	if first == "" {
		first = s.cfg.Load.CommuneField
	}
	fields := []string{first}
	for _, f := range schema.CommuneQueryFallbacks {
		if f != first {
			fields = append(fields, f)
		}
	}
	return fields
}

// handleCommune returns the features of one commune as GeoJSON.
func (s *Server) handleCommune(w http.ResponseWriter, r *http.Request) {
	ident := s.tableIdentity(chi.URLParam(r, "table"), r.URL.Query().Get("schema"))
	value := chi.URLParam(r, "value")

	res, err := s.query.QueryByCommune(r.Context(), ident, value, s.communeFields(r))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	logging.FromContext(r.Context()).Debug("commune query",
		"table", ident.String(),
		"field", res.Field,
		"value", res.Value,
		"features", len(res.Features.Features),
	)

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Commune-Field", res.Field)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res.Features); err != nil {
		logging.FromContext(r.Context()).Error("geojson encode error", "error", err)
	}
}

// handleCommuneStats returns per-commune area statistics, optionally for
// a single commune.
func (s *Server) handleCommuneStats(w http.ResponseWriter, r *http.Request) {
	ident := s.tableIdentity(chi.URLParam(r, "table"), r.URL.Query().Get("schema"))

	stats, err := s.query.CommuneStatistics(r.Context(), ident, r.URL.Query().Get("commune"), s.communeFields(r))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if stats == nil {
		stats = []store.CommuneStat{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"table":    ident.String(),
		"communes": stats,
	})
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Loads    any    `json:"loads,omitempty"`
}

// handleHealth pings the store and reports load slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	if s.limiter != nil {
		resp.Loads = s.limiter.Status()
	}

	status := http.StatusOK
	if err := s.query.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
