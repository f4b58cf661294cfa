package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	warden "github.com/eugener/warden/internal"
	"github.com/eugener/warden/internal/app"
	"github.com/eugener/warden/internal/metrics"
)

// maxSampleLimit caps ?limit= so a typo cannot ask for an unbounded copy.
const maxSampleLimit = 10_000

type statsResponse struct {
	Summary metrics.Summary            `json:"summary"`
	Stats   map[string]warden.KeyStats `json:"stats"`
	Rates   map[string]float64         `json:"hit_rates"`
}

func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Metrics.AllStats()
	rates := make(map[string]float64, len(all))
	for k, st := range all {
		rates[k] = st.HitRate()
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Summary: s.deps.Metrics.Summary(),
		Stats:   all,
		Rates:   rates,
	})
}

func (s *server) handleExport(w http.ResponseWriter, _ *http.Request) {
	data, err := s.deps.Metrics.Export()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("export metrics: "+err.Error()))
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.deps.Metrics.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSamples(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse("limit must be a non-negative integer"))
			return
		}
		limit = min(n, maxSampleLimit)
	}
	samples := s.deps.Metrics.RecentSamples(limit)
	if samples == nil {
		samples = []warden.QuerySample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"capacity": s.deps.Metrics.MaxSamples(),
		"samples":  samples,
	})
}

func (s *server) handleCacheKeys(w http.ResponseWriter, r *http.Request) {
	keys := s.deps.Cache.Keys(r.Context())
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":       keys,
		"size_bytes": s.deps.Cache.SizeBytes(r.Context()),
		"version":    s.deps.Cache.Version(),
	})
}

func (s *server) handleCacheInfo(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("key is required"))
		return
	}
	info, ok := s.deps.Cache.Info(r.Context(), key)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse("no entry for key "+strconv.Quote(key)))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *server) handleCacheRemove(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("key is required"))
		return
	}
	s.deps.Cache.Remove(r.Context(), key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Cache.Clear(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// latestSnapshotKey caches the newest persisted snapshot so repeated
// dashboard polls do not hit the database.
const latestSnapshotKey = "snapshot:latest"

type snapshotView struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

func (s *server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	view, err := app.Load(r.Context(), s.deps.Loader, latestSnapshotKey,
		func(ctx context.Context) (snapshotView, error) {
			snap, err := s.deps.Snapshots.LatestSnapshot(ctx)
			if err != nil {
				return snapshotView{}, err
			}
			return snapshotView{ID: snap.ID, CreatedAt: snap.CreatedAt, Data: snap.Data}, nil
		})
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, view)
}
