package handlers

import (
	"net/http"

	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/types"
	"github.com/go-chi/chi/v5"
)

type NotificationHandler struct {
	notificationService *services.NotificationService
}

func NewNotificationHandler(notificationService *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

func NotificationRouter(r chi.Router, handler *NotificationHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Get("/", handler.List)
	r.Get("/unread-count", handler.UnreadCount)
	r.Put("/{notificationID}/read", handler.MarkRead)
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	notifications, err := h.notificationService.List(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err, "notifications")
		return
	}
	if notifications == nil {
		notifications = []types.Notification{}
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := h.notificationService.UnreadCount(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err, "notifications")
		return
	}
	writeJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id, err := parseIDParam(r, "notificationID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.notificationService.MarkRead(r.Context(), user, id); err != nil {
		writeServiceError(w, r, err, "notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
