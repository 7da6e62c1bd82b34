package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/vtkindex/internal/consistency"
)

// Handler returns the admin API:
//
//	POST /admin/check?repair=true&abort=true  run a check, optionally repairing
//	GET  /admin/check                          last check result
//	GET  /admin/updater                        updater state
//	POST /admin/updater/enable
//	POST /admin/updater/disable
//	GET  /admin/search?q=...&limit=n           full-text search
//	GET  /metrics
//	GET  /health
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()

	admin := router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/check", s.handleRunCheck).Methods(http.MethodPost)
	admin.HandleFunc("/check", s.handleLastCheck).Methods(http.MethodGet)
	admin.HandleFunc("/updater", s.handleUpdaterState).Methods(http.MethodGet)
	admin.HandleFunc("/updater/enable", s.handleUpdaterEnable).Methods(http.MethodPost)
	admin.HandleFunc("/updater/disable", s.handleUpdaterDisable).Methods(http.MethodPost)
	admin.HandleFunc("/search", s.handleSearch).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return router
}

func (s *Service) handleRunCheck(w http.ResponseWriter, r *http.Request) {
	repair, err := boolParam(r, "repair")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	abort, err := boolParam(r, "abort")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.RunCheck(r.Context(), repair, abort)
	var re *consistency.RepairError
	switch {
	case errors.Is(err, ErrCheckRunning):
		respondError(w, http.StatusConflict, err.Error())
	case consistency.IsStorageCorruption(err):
		respondJSON(w, http.StatusServiceUnavailable, result)
	case errors.As(err, &re):
		respondJSON(w, http.StatusOK, result)
	case err != nil:
		respondJSON(w, http.StatusInternalServerError, result)
	default:
		respondJSON(w, http.StatusOK, result)
	}
}

func (s *Service) handleLastCheck(w http.ResponseWriter, r *http.Request) {
	result, ok := s.LastCheck()
	if !ok {
		respondError(w, http.StatusNotFound, "no consistency check has run")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type updaterState struct {
	Enabled   bool   `json:"enabled"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Service) updaterState() updaterState {
	st := updaterState{Enabled: s.UpdaterEnabled()}
	if err := s.UpdaterLastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (s *Service) handleUpdaterState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.updaterState())
}

func (s *Service) handleUpdaterEnable(w http.ResponseWriter, r *http.Request) {
	s.EnableUpdater()
	respondJSON(w, http.StatusOK, s.updaterState())
}

func (s *Service) handleUpdaterDisable(w http.ResponseWriter, r *http.Request) {
	s.DisableUpdater()
	respondJSON(w, http.StatusOK, s.updaterState())
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		respondError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	hits, err := s.index.Search(r.Context(), q, limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, hits)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.index.ValidateStorageIntegrity(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.New(name + " must be a boolean")
	}
	return v, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_, _ = w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
