package repository

import (
	"context"
	"database/sql"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"gridbot/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NotificationRepository - уведомления для оператора
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает репозиторий уведомлений
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create добавляет уведомление; meta сериализуется в JSON
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	var meta []byte
	if n.Meta != nil {
		var err error
		meta, err = json.Marshal(n.Meta)
		if err != nil {
			return fmt.Errorf("marshal notification meta: %w", err)
		}
	}

	query := `
		INSERT INTO notifications (timestamp, type, severity, task_id, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		n.Timestamp, n.Type, n.Severity, n.TaskID, n.Message, meta,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// ListRecent возвращает последние уведомления, новые первыми
func (r *NotificationRepository) ListRecent(ctx context.Context, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, timestamp, type, severity, task_id, message, meta
		FROM notifications
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*models.Notification, 0)
	for rows.Next() {
		var (
			n      models.Notification
			taskID sql.NullString
			meta   []byte
		)
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &taskID, &n.Message, &meta); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if taskID.Valid {
			n.TaskID = &taskID.String
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal notification meta: %w", err)
			}
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}
