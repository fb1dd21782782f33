package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutor_backoffice/internal/model"
	"github.com/Freeeeeet/tutor_backoffice/internal/repository/base"
)

// NotificationRepository хранит исходящие события до выдачи их сервису
// доставки. Ядро только пишет и помечает прочитанным.
type NotificationRepository struct {
	db base.Querier
}

func NewNotificationRepository(db base.Querier) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (user_id, event_type, message, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		n.UserID,
		n.EventType,
		n.Message,
		n.Payload,
	).Scan(&n.ID, &n.CreatedAt)

	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	return nil
}

// ListUnreadByUser получает непрочитанные уведомления пользователя
func (r *NotificationRepository) ListUnreadByUser(ctx context.Context, userID int64) ([]*model.Notification, error) {
	query := `
		SELECT id, user_id, event_type, message, payload, read, read_at, created_at
		FROM notifications
		WHERE user_id = $1 AND read = FALSE
		ORDER BY created_at
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*model.Notification
	for rows.Next() {
		var n model.Notification
		err := rows.Scan(
			&n.ID,
			&n.UserID,
			&n.EventType,
			&n.Message,
			&n.Payload,
			&n.Read,
			&n.ReadAt,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, &n)
	}

	return items, rows.Err()
}

// MarkRead помечает уведомление прочитанным
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE notifications
		SET read = TRUE, read_at = $2
		WHERE id = $1 AND read = FALSE
	`

	tag, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, model.ErrNotFound)
	}

	return nil
}
