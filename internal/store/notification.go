package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/achievetrack/apiserver/types"
)

// NotificationRepository handles persistence for notifications.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification. A second row for the same event and
// recipient fails with ErrDuplicateKey.
func (r *NotificationRepository) Create(ctx context.Context, notification types.Notification) (types.Notification, error) {
	notification.CreatedAt = time.Now()

	const query = `
		INSERT INTO notifications (recipient_id, sender_id, type, message, achievement_id, event_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		notification.RecipientID,
		nullInt(notification.SenderID),
		string(notification.Type),
		notification.Message,
		nullInt(notification.AchievementID),
		nullString(notification.EventID),
		notification.IsRead,
		notification.CreatedAt,
	).Scan(&notification.ID); err != nil {
		return types.Notification{}, translateError(err)
	}
	return notification, nil
}

func (r *NotificationRepository) Get(ctx context.Context, id int) (types.Notification, error) {
	const query = `
		SELECT id, recipient_id, sender_id, type, message, achievement_id, is_read, created_at
		FROM notifications
		WHERE id = $1`
	return scanNotification(r.db.QueryRowContext(ctx, query, id))
}

// ListForRecipient returns a recipient's notifications, newest first.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID, limit int) ([]types.Notification, error) {
	if limit < 1 {
		limit = 50
	}

	const query = `
		SELECT id, recipient_id, sender_id, type, message, achievement_id, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := make([]types.Notification, 0)
	for rows.Next() {
		notification, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notification)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID int) (int, error) {
	const query = `SELECT COUNT(1) FROM notifications WHERE recipient_id = $1 AND NOT is_read`
	var count int
	if err := r.db.QueryRowContext(ctx, query, recipientID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id int) error {
	const query = `UPDATE notifications SET is_read = TRUE WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanNotification(row rowScanner) (types.Notification, error) {
	var (
		notification  types.Notification
		senderID      sql.NullInt64
		achievementID sql.NullInt64
	)
	err := row.Scan(
		&notification.ID,
		&notification.RecipientID,
		&senderID,
		&notification.Type,
		&notification.Message,
		&achievementID,
		&notification.IsRead,
		&notification.CreatedAt,
	)
	if err != nil {
		return types.Notification{}, translateError(err)
	}
	notification.SenderID = int(senderID.Int64)
	notification.AchievementID = int(achievementID.Int64)
	return notification, nil
}
