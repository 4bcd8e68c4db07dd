// Package memory provides in-process repositories with the same semantics
// as the Postgres store: unique keys, conditional status updates and the
// not-found and conflict sentinels. It backs the service and handler tests.
package memory

import (
	"sync"

	"github.com/achievetrack/apiserver/types"
)

// Store holds every table behind a single mutex so cross-table reads, such
// as filtering achievements by the student's section, see one snapshot.
type Store struct {
	mu sync.Mutex

	users         map[int]types.User
	achievements  map[int]types.Achievement
	notifications map[int]types.Notification

	nextUserID         int
	nextAchievementID  int
	nextNotificationID int
}

func New() *Store {
	return &Store{
		users:         make(map[int]types.User),
		achievements:  make(map[int]types.Achievement),
		notifications: make(map[int]types.Notification),
	}
}

func (s *Store) Users() *UserRepository {
	return &UserRepository{store: s}
}

func (s *Store) Achievements() *AchievementRepository {
	return &AchievementRepository{store: s}
}

func (s *Store) Notifications() *NotificationRepository {
	return &NotificationRepository{store: s}
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
