package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alertscope/alertscope/internal/connectors"
	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/store"
)

func (h *Handlers) listDataSources(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sources, err := h.store.ListDataSources(r.Context())
	if err != nil {
		h.logger.Error("list datasources failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list datasources")
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

func (h *Handlers) createDataSource(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var ds models.DataSource
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ds.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.CreateDataSource(r.Context(), &ds); err != nil {
		h.logger.Error("create datasource failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create datasource")
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

func (h *Handlers) getDataSource(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ds, err := h.store.GetDataSource(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "datasource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load datasource")
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *Handlers) updateDataSource(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	existing, err := h.store.GetDataSource(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "datasource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load datasource")
		return
	}

	var ds models.DataSource
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ds.ID = existing.ID
	ds.CreatedAt = existing.CreatedAt
	if err := ds.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.UpdateDataSource(r.Context(), &ds); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update datasource")
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *Handlers) deleteDataSource(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	err := h.store.DeleteDataSource(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "datasource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete datasource")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// testDataSource probes the backend behind a configured datasource and
// reports reachability with latency.
func (h *Handlers) testDataSource(w http.ResponseWriter, r *http.Request) {
	if _, err := userID(r); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	ds, err := h.store.GetDataSource(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "datasource not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load datasource")
		return
	}

	conn, err := connectors.New(*ds, h.connOpts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	health, err := conn.TestConnection(r.Context())
	if err != nil {
		// The backend was unreachable; report it as a failed probe
		// rather than a server error.
		writeJSON(w, http.StatusOK, models.ConnectionHealth{OK: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, health)
}
