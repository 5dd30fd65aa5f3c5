package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ericyarmo/buds-relay/pkg/relay/service"
)

// SendMessage ingests a message for fan-out.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req service.SendMessageRequest
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	msg, err := h.svc.SendMessage(r.Context(), &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message_id": msg.MessageID,
		"created_at": msg.CreatedAt,
		"expires_at": msg.ExpiresAt,
	})
}

// Inbox returns the caller's pending messages.
func (h *Handlers) Inbox(w http.ResponseWriter, r *http.Request) {
	did, ok := h.callerDID(w, r)
	if !ok {
		return
	}

	var since int64
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, "since must be epoch milliseconds", nil)
			return
		}
		since = v
	}

	var limit int
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeErrorCode(w, r, http.StatusBadRequest, CodeValidation, "limit must be a non-negative integer", nil)
			return
		}
		limit = v
	}

	msgs, hasMore, err := h.svc.Inbox(r.Context(), did, since, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"has_more": hasMore,
	})
}

// MarkDelivered acknowledges delivery of a message to the caller.
func (h *Handlers) MarkDelivered(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
	}
	if !h.decodeJSONBody(w, r, &req) {
		return
	}
	did, ok := h.callerDID(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkDelivered(r.Context(), did, req.MessageID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage removes a message; sender-only while the message lives.
func (h *Handlers) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	did, ok := h.callerDID(w, r)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "id")
	if err := h.svc.DeleteMessage(r.Context(), did, messageID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
