package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
)

type UserRepository struct {
	store *Store
}

func (r *UserRepository) GetByID(_ context.Context, id int) (types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user, ok := r.store.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) GetByCredential(_ context.Context, emailOrUsername string) (types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(emailOrUsername))
	for _, user := range r.store.sortedUsers() {
		if user.Email == key || user.Username == key {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) List(_ context.Context, filter types.UserFilter, offset, limit int) ([]types.User, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	matched := make([]types.User, 0)
	for _, user := range r.store.sortedUsers() {
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		matched = append(matched, user)
	}
	return page(matched, offset, limit), len(matched), nil
}

func (r *UserRepository) ListByRole(_ context.Context, role types.Role) ([]types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	users := make([]types.User, 0)
	for _, user := range r.store.sortedUsers() {
		if user.Role == role && user.IsActive {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *UserRepository) ListCounsellorsForSection(_ context.Context, section int) ([]types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	users := make([]types.User, 0)
	for _, user := range r.store.sortedUsers() {
		if user.Role == types.RoleCounsellor && user.AssignedSection == section && user.IsActive {
			users = append(users, user)
		}
	}
	return users, nil
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	user.Username = strings.ToLower(user.Username)
	user.Email = strings.ToLower(user.Email)
	for _, existing := range r.store.users {
		switch {
		case existing.Username == user.Username,
			existing.Email == user.Email,
			user.StudentID != "" && existing.StudentID == user.StudentID,
			user.CounsellorID != "" && existing.CounsellorID == user.CounsellorID:
			return types.User{}, store.ErrDuplicateKey
		}
	}

	r.store.nextUserID++
	now := time.Now()
	user.ID = r.store.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.store.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) Update(_ context.Context, user types.User) (types.User, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, ok := r.store.users[user.ID]
	if !ok {
		return types.User{}, store.ErrNotFound
	}

	existing.Name = user.Name
	existing.PhoneNumber = user.PhoneNumber
	existing.Department = user.Department
	existing.Branch = user.Branch
	existing.Course = user.Course
	existing.Year = user.Year
	existing.Section = user.Section
	existing.CounsellorRole = user.CounsellorRole
	existing.AssignedSection = user.AssignedSection
	existing.IsActive = user.IsActive
	existing.UpdatedAt = time.Now()
	r.store.users[existing.ID] = existing
	return existing, nil
}

// sortedUsers must be called with mu held.
func (s *Store) sortedUsers() []types.User {
	users := make([]types.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}
