package handler

import (
	"net/http"
	"time"

	"github.com/campeche/checkout/internal/domain/auth"
	"github.com/campeche/checkout/internal/domain/notify"
)

type notificationResponse struct {
	ID        int64             `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}

func newNotificationResponse(e notify.Event) notificationResponse {
	data := e.Data
	if data == nil {
		data = map[string]string{}
	}
	return notificationResponse{
		ID:        e.ID,
		Type:      string(e.Type),
		Title:     e.Title,
		Message:   e.Message,
		Data:      data,
		CreatedAt: e.CreatedAt,
	}
}

// ListNotifications returns the caller's notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.inbox.ListNotifications(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]notificationResponse, 0, len(list))
	for _, e := range list {
		resp = append(resp, newNotificationResponse(e))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// DeleteNotification removes one of the caller's notifications.
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	noteID, ok := pathID(r)
	if !ok {
		writeError(w, r, notify.ErrNotFound)
		return
	}
	if err := h.inbox.DeleteNotification(r.Context(), id.UserID, noteID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
