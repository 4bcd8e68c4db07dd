package memory

import (
	"context"
	"sort"
	"time"

	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
)

type NotificationRepository struct {
	store *Store
}

func (r *NotificationRepository) Create(_ context.Context, notification types.Notification) (types.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if notification.EventID != "" {
		for _, existing := range r.store.notifications {
			if existing.EventID == notification.EventID && existing.RecipientID == notification.RecipientID {
				return types.Notification{}, store.ErrDuplicateKey
			}
		}
	}

	r.store.nextNotificationID++
	notification.ID = r.store.nextNotificationID
	notification.CreatedAt = time.Now()
	r.store.notifications[notification.ID] = notification
	return notification, nil
}

func (r *NotificationRepository) Get(_ context.Context, id int) (types.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	notification, ok := r.store.notifications[id]
	if !ok {
		return types.Notification{}, store.ErrNotFound
	}
	return notification, nil
}

func (r *NotificationRepository) ListForRecipient(_ context.Context, recipientID, limit int) ([]types.Notification, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit < 1 {
		limit = 50
	}

	notifications := make([]types.Notification, 0)
	for _, notification := range r.store.notifications {
		if notification.RecipientID == recipientID {
			notifications = append(notifications, notification)
		}
	}
	sort.Slice(notifications, func(i, j int) bool { return notifications[i].ID > notifications[j].ID })
	if len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

func (r *NotificationRepository) CountUnread(_ context.Context, recipientID int) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	count := 0
	for _, notification := range r.store.notifications {
		if notification.RecipientID == recipientID && !notification.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *NotificationRepository) MarkRead(_ context.Context, id int) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	notification, ok := r.store.notifications[id]
	if !ok {
		return store.ErrNotFound
	}
	notification.IsRead = true
	r.store.notifications[id] = notification
	return nil
}
