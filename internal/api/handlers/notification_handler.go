package handlers

import (
	"context"
	"net/http"
	"strconv"

	"gridbot/internal/models"
)

// NotificationLister - чтение журнала уведомлений
type NotificationLister interface {
	ListRecent(ctx context.Context, limit int) ([]*models.Notification, error)
}

// NotificationHandler отвечает за журнал уведомлений оператора
//
// Endpoints:
// - GET /api/v1/notifications - последние уведомления
// - GET /api/v1/notifications?limit=50 - с ограничением количества
//
// Типы уведомлений:
// - TASK_ACTIVATED: задача активирована, коридор установлен
// - TASK_EXPIRED: задача остановлена с причиной
// - ORDER_REPLACED: реконсилятор заменил пассивный ордер
// - SECOND_LEG_FAIL: вторая нога не открылась
// - ERROR: ошибка API/хранилища
type NotificationHandler struct {
	notifications NotificationLister
}

// NewNotificationHandler создает NotificationHandler
func NewNotificationHandler(notifications NotificationLister) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// GetNotificationsResponse - ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает последние уведомления
//
// GET /api/v1/notifications
//
// Query параметры:
// - limit (int): количество записей (по умолчанию 100, максимум 500)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}

	notifications, err := h.notifications.ListRecent(r.Context(), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to get notifications: "+err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{
		Notifications: notifications,
		Total:         len(notifications),
	})
}
