package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"gridbot/internal/models"
)

type fakeNotificationLister struct {
	notes     []*models.Notification
	err       error
	lastLimit int
}

func (l *fakeNotificationLister) ListRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	l.lastLimit = limit
	return l.notes, l.err
}

func TestGetNotifications(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantLimit  int
		wantStatus int
		listErr    error
	}{
		{"default limit", "/api/v1/notifications", 100, http.StatusOK, nil},
		{"explicit limit", "/api/v1/notifications?limit=25", 25, http.StatusOK, nil},
		{"limit capped", "/api/v1/notifications?limit=9000", 500, http.StatusOK, nil},
		{"garbage limit falls back", "/api/v1/notifications?limit=abc", 100, http.StatusOK, nil},
		{"storage failure", "/api/v1/notifications", 100, http.StatusInternalServerError, errors.New("connection lost")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			taskID := "t1"
			lister := &fakeNotificationLister{
				notes: []*models.Notification{
					{ID: 1, Type: models.NotificationTypeExpired, Severity: models.SeverityError,
						TaskID: &taskID, Message: "insufficient position"},
				},
				err: tt.listErr,
			}
			handler := NewNotificationHandler(lister)

			rec := httptest.NewRecorder()
			handler.GetNotifications(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if lister.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", lister.lastLimit, tt.wantLimit)
			}

			if tt.wantStatus == http.StatusOK {
				var resp GetNotificationsResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.Total != 1 || len(resp.Notifications) != 1 {
					t.Errorf("total = %d, notifications = %d", resp.Total, len(resp.Notifications))
				}
			}
		})
	}
}
