package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alertscope/alertscope/internal/connectors"
	"github.com/alertscope/alertscope/internal/engine"
	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/registry"
	"github.com/alertscope/alertscope/internal/store"
)

const userHeader = "X-User-ID"

// Handlers binds the HTTP surface to the engine and store.
type Handlers struct {
	store    store.Store
	analyzer *engine.Analyzer
	registry *registry.Registry
	logger   *slog.Logger
	connOpts connectors.Options
}

func NewHandlers(st store.Store, analyzer *engine.Analyzer, reg *registry.Registry, logger *slog.Logger, connOpts connectors.Options) *Handlers {
	return &Handlers{
		store:    st,
		analyzer: analyzer,
		registry: reg,
		logger:   logger,
		connOpts: connOpts,
	}
}

// Router wires every endpoint. Authentication is delegated to the
// fronting proxy; this service only consumes the identity header.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/analyze", h.analyze).Methods(http.MethodPost)
	v1.HandleFunc("/analyze/sync", h.analyzeSync).Methods(http.MethodPost)

	v1.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id:[0-9]+}", h.getSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id:[0-9]+}", h.deleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id:[0-9]+}/continue", h.continueSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id:[0-9]+}/cancel", h.cancelSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id:[0-9]+}/reanalyze", h.reanalyzeSession).Methods(http.MethodPost)

	v1.HandleFunc("/datasources", h.listDataSources).Methods(http.MethodGet)
	v1.HandleFunc("/datasources", h.createDataSource).Methods(http.MethodPost)
	v1.HandleFunc("/datasources/{id:[0-9]+}", h.getDataSource).Methods(http.MethodGet)
	v1.HandleFunc("/datasources/{id:[0-9]+}", h.updateDataSource).Methods(http.MethodPut)
	v1.HandleFunc("/datasources/{id:[0-9]+}", h.deleteDataSource).Methods(http.MethodDelete)
	v1.HandleFunc("/datasources/{id:[0-9]+}/test", h.testDataSource).Methods(http.MethodPost)

	v1.HandleFunc("/tickets", h.listTickets).Methods(http.MethodGet)
	v1.HandleFunc("/tickets", h.createTicket).Methods(http.MethodPost)
	v1.HandleFunc("/tickets/{id:[0-9]+}", h.getTicket).Methods(http.MethodGet)
	v1.HandleFunc("/tickets/{id:[0-9]+}", h.updateTicket).Methods(http.MethodPut)
	v1.HandleFunc("/tickets/{id:[0-9]+}", h.deleteTicket).Methods(http.MethodDelete)
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// userID extracts the caller identity set by the fronting proxy.
func userID(r *http.Request) (int64, error) {
	raw := r.Header.Get(userHeader)
	if raw == "" {
		return 0, fmt.Errorf("missing %s header", userHeader)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s header", userHeader)
	}
	return id, nil
}

func pathID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

// ownedSession loads a session and enforces ownership: unknown ids are
// 404, foreign ids are 403. Returns nil after writing the response on
// failure.
func (h *Handlers) ownedSession(w http.ResponseWriter, r *http.Request, uid int64) *models.Session {
	sess, err := h.store.GetSession(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return nil
	}
	if err != nil {
		h.logger.Error("load session failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil
	}
	if sess.UserID != uid {
		writeError(w, http.StatusForbidden, "session belongs to another user")
		return nil
	}
	return sess
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	p50, p95, count := h.analyzer.LatencySnapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"analyses":        count,
		"analysis_p50_ms": p50.Milliseconds(),
		"analysis_p95_ms": p95.Milliseconds(),
	})
}

// resolveSources loads the datasources named in the request, or every
// configured source when the request names none.
func (h *Handlers) resolveSources(r *http.Request, req models.AnalysisRequest) ([]models.DataSource, error) {
	if len(req.DataSourceIDs) > 0 {
		return h.store.DataSourcesByIDs(r.Context(), req.DataSourceIDs)
	}
	return h.store.ListDataSources(r.Context())
}

// analyze starts a new analysis and streams pipeline events until it
// finishes. The session id is exposed in the X-Session-Id response
// header before the first event.
func (h *Handlers) analyze(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AlertContent == "" {
		writeError(w, http.StatusBadRequest, "alert_content is required")
		return
	}

	sources, err := h.resolveSources(r, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load datasources")
		return
	}

	session := &models.Session{
		UserID:       uid,
		AlertContent: req.AlertContent,
		Status:       models.StatusPending,
	}
	session.AddMessage(models.RoleUser, req.AlertContent, "", nil)
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		h.logger.Error("create session failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("X-Session-Id", strconv.FormatInt(session.ID, 10))

	h.analyzer.Run(r.Context(), session, sources, req.TimeRangeMinutes, stream.send)
}

// analyzeSync runs the same pipeline without streaming and returns the
// finished session in one response.
func (h *Handlers) analyzeSync(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req models.AnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AlertContent == "" {
		writeError(w, http.StatusBadRequest, "alert_content is required")
		return
	}

	sources, err := h.resolveSources(r, req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load datasources")
		return
	}

	session := &models.Session{
		UserID:       uid,
		AlertContent: req.AlertContent,
		Status:       models.StatusPending,
	}
	session.AddMessage(models.RoleUser, req.AlertContent, "", nil)
	if err := h.store.CreateSession(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.analyzer.Run(r.Context(), session, sources, req.TimeRangeMinutes, nil)
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, total, err := h.store.ListSessions(r.Context(), uid, limit, offset)
	if err != nil {
		h.logger.Error("list sessions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
	})
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sess := h.ownedSession(w, r, uid)
	if sess == nil {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sess := h.ownedSession(w, r, uid)
	if sess == nil {
		return
	}
	if err := h.store.DeleteSession(r.Context(), sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// continueSession answers a follow-up question against a completed
// analysis and streams the exchange.
func (h *Handlers) continueSession(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sess := h.ownedSession(w, r, uid)
	if sess == nil {
		return
	}
	if sess.Status != models.StatusCompleted {
		writeError(w, http.StatusConflict, "session has no completed analysis to continue")
		return
	}
	var req models.ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.analyzer.Continue(r.Context(), sess, req.Message, stream.send)
}

// cancelSession flags a running analysis for cooperative cancellation.
// The pipeline persists the cancelled state when it observes the flag.
func (h *Handlers) cancelSession(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sess := h.ownedSession(w, r, uid)
	if sess == nil {
		return
	}
	if h.registry.RequestCancel(sess.ID) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "not_active"})
}

// reanalyzeSession resets a finished session and runs the pipeline
// again against the current datasources, streaming as analyze does.
func (h *Handlers) reanalyzeSession(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	sess := h.ownedSession(w, r, uid)
	if sess == nil {
		return
	}
	if !sess.Status.Terminal() {
		writeError(w, http.StatusConflict, "session is still running")
		return
	}

	sess.Status = models.StatusPending
	sess.CurrentStage = ""
	sess.Intent = nil
	sess.Context = nil
	sess.Result = nil
	sess.AddMessage(models.RoleUser, "reanalyze requested", "", nil)
	if err := h.store.SaveSession(r.Context(), sess); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset session")
		return
	}

	sources, err := h.store.ListDataSources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load datasources")
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("X-Session-Id", strconv.FormatInt(sess.ID, 10))
	h.analyzer.Run(r.Context(), sess, sources, 0, stream.send)
}

// eventStream writes server-sent events and flushes after each one.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by connection")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &eventStream{w: w, flusher: flusher}, nil
}

func (s *eventStream) send(ev models.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
