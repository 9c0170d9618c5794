package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/storage"
)

const defaultRunListLimit = 50

// StatusServer serves read-only run status over HTTP.
type StatusServer struct {
	runs      storage.RunStore
	snapshots storage.SnapshotStore
}

// NewStatusServer reads from runs and snapshots.
func NewStatusServer(runs storage.RunStore, snapshots storage.SnapshotStore) *StatusServer {
	return &StatusServer{runs: runs, snapshots: snapshots}
}

// Routes returns the status routes.
func (s *StatusServer) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{runID}", s.getRun)
	r.Get("/runs/{runID}/days", s.listDays)
	r.Get("/runs/{runID}/days/{day}", s.getDay)
	return r
}

func (s *StatusServer) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *StatusServer) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *StatusServer) listDays(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.runs.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	snaps, err := s.snapshots.ListSnapshots(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *StatusServer) getDay(w http.ResponseWriter, r *http.Request) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 0 {
		writeError(w, http.StatusBadRequest, "day must be a non-negative integer")
		return
	}
	snaps, err := s.snapshots.ListSnapshots(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, snap := range snaps {
		if snap.Day == day {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	writeError(w, http.StatusNotFound, "day not found")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
