package handlers

import (
	"net/http"

	"rahat-ems/core/store"
	"rahat-ems/core/utils"
)

type NotificationsHandler struct {
	store  store.NotificationsStore
	logger *utils.Logger
}

func NewNotificationsHandler(s store.NotificationsStore, logger *utils.Logger) *NotificationsHandler {
	return &NotificationsHandler{store: s, logger: logger}
}

func (h *NotificationsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "1" || r.URL.Query().Get("unread") == "true"
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	items, err := h.store.ListForRecipient(r.Context(), actor.ID, unreadOnly, limit)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []store.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *NotificationsHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id := urlParam(r, "notification_id")
	if err := h.store.MarkRead(r.Context(), id, actor.ID); err != nil {
		if err == store.ErrConflict {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
