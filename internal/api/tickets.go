package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/store"
)

func newTicketNo() string {
	return "TCK-" + strings.ToUpper(uuid.NewString()[:8])
}

func validTicketStatus(s string) bool {
	switch s {
	case models.TicketOpen, models.TicketInProgress, models.TicketResolved, models.TicketClosed:
		return true
	}
	return false
}

// ownedTicket loads a ticket and enforces ownership the same way
// sessions do.
func (h *Handlers) ownedTicket(w http.ResponseWriter, r *http.Request, uid int64) *models.Ticket {
	t, err := h.store.GetTicket(r.Context(), pathID(r))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "ticket not found")
		return nil
	}
	if err != nil {
		h.logger.Error("load ticket failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load ticket")
		return nil
	}
	if t.UserID != uid {
		writeError(w, http.StatusForbidden, "ticket belongs to another user")
		return nil
	}
	return t
}

func (h *Handlers) listTickets(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	tickets, err := h.store.ListTickets(r.Context(), uid)
	if err != nil {
		h.logger.Error("list tickets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list tickets")
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handlers) createTicket(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var req struct {
		SessionID   *int64 `json:"session_id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.SessionID != nil {
		sess, err := h.store.GetSession(r.Context(), *req.SessionID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, "linked session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load linked session")
			return
		}
		if sess.UserID != uid {
			writeError(w, http.StatusForbidden, "linked session belongs to another user")
			return
		}
	}

	ticket := &models.Ticket{
		TicketNo:    newTicketNo(),
		UserID:      uid,
		SessionID:   req.SessionID,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TicketOpen,
	}
	if err := h.store.CreateTicket(r.Context(), ticket); err != nil {
		h.logger.Error("create ticket failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create ticket")
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handlers) getTicket(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	t := h.ownedTicket(w, r, uid)
	if t == nil {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) updateTicket(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	t := h.ownedTicket(w, r, uid)
	if t == nil {
		return
	}

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Status      *string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			writeError(w, http.StatusBadRequest, "title cannot be empty")
			return
		}
		t.Title = *req.Title
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Status != nil {
		if !validTicketStatus(*req.Status) {
			writeError(w, http.StatusBadRequest, "unknown ticket status")
			return
		}
		t.Status = *req.Status
	}

	if err := h.store.UpdateTicket(r.Context(), t); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update ticket")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) deleteTicket(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	t := h.ownedTicket(w, r, uid)
	if t == nil {
		return
	}
	if err := h.store.DeleteTicket(r.Context(), t.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete ticket")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
