package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
)

type AchievementRepository struct {
	store *Store
}

func (r *AchievementRepository) Create(_ context.Context, achievement types.Achievement) (types.Achievement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.nextAchievementID++
	now := time.Now()
	achievement.ID = r.store.nextAchievementID
	achievement.Status = types.StatusPending
	achievement.CreatedAt = now
	achievement.UpdatedAt = now
	r.store.achievements[achievement.ID] = achievement
	return achievement, nil
}

func (r *AchievementRepository) Get(_ context.Context, id int) (types.Achievement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	achievement, ok := r.store.achievements[id]
	if !ok {
		return types.Achievement{}, store.ErrNotFound
	}
	return achievement, nil
}

func (r *AchievementRepository) GetByVerificationCode(_ context.Context, code string) (types.Achievement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if code == "" {
		return types.Achievement{}, store.ErrNotFound
	}
	for _, achievement := range r.store.achievements {
		if achievement.VerificationCode == code {
			return achievement, nil
		}
	}
	return types.Achievement{}, store.ErrNotFound
}

func (r *AchievementRepository) List(_ context.Context, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	matched := r.store.filterAchievements(filter)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return page(matched, offset, limit), len(matched), nil
}

// filterAchievements must be called with mu held.
func (s *Store) filterAchievements(filter types.AchievementFilter) []types.Achievement {
	matched := make([]types.Achievement, 0)
	for _, achievement := range s.achievements {
		if filter.StudentID != 0 && achievement.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && achievement.Status != filter.Status {
			continue
		}
		if filter.Category != "" && achievement.Category != filter.Category {
			continue
		}
		if filter.Level != "" && achievement.Level != filter.Level {
			continue
		}
		if filter.Department != "" && !strings.EqualFold(achievement.Department, filter.Department) {
			continue
		}
		if filter.Section != 0 && s.users[achievement.StudentID].Section != filter.Section {
			continue
		}
		matched = append(matched, achievement)
	}
	return matched
}

func (r *AchievementRepository) ApplyStatusChange(_ context.Context, change types.StatusChange) (types.Achievement, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	achievement, ok := r.store.achievements[change.AchievementID]
	if !ok {
		return types.Achievement{}, store.ErrNotFound
	}
	if achievement.Status != change.From {
		return types.Achievement{}, store.ErrStatusConflict
	}

	review := &types.Review{
		ReviewerID:      change.ActorID,
		ReviewedAt:      change.At,
		RejectionReason: change.Reason,
	}
	switch change.To {
	case types.StatusCounsellorApproved, types.StatusCounsellorRejected:
		achievement.CounsellorReview = review
	case types.StatusAdminApproved, types.StatusAdminRejected:
		if change.VerificationCode != "" {
			for _, other := range r.store.achievements {
				if other.VerificationCode == change.VerificationCode {
					return types.Achievement{}, store.ErrDuplicateKey
				}
			}
		}
		achievement.AdminReview = review
		achievement.VerificationCode = change.VerificationCode
		achievement.Points = change.Points
	default:
		return types.Achievement{}, fmt.Errorf("unsupported target status %q", change.To)
	}

	achievement.Status = change.To
	achievement.UpdatedAt = change.At
	r.store.achievements[achievement.ID] = achievement
	return achievement, nil
}

func (r *AchievementRepository) SetBadge(_ context.Context, id int, badge types.Badge) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	achievement, ok := r.store.achievements[id]
	if !ok {
		return store.ErrNotFound
	}
	achievement.Badge = badge
	r.store.achievements[id] = achievement
	return nil
}

func (r *AchievementRepository) ApprovedPoints(_ context.Context, studentID int) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	total := 0
	for _, achievement := range r.store.achievements {
		if achievement.StudentID == studentID && achievement.Status == types.StatusAdminApproved {
			total += achievement.Points
		}
	}
	return total, nil
}

func (r *AchievementRepository) CountBy(_ context.Context, column string, filter types.AchievementFilter) ([]types.CountItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var label func(types.Achievement) string
	switch column {
	case "status":
		label = func(a types.Achievement) string { return string(a.Status) }
	case "category":
		label = func(a types.Achievement) string { return string(a.Category) }
	case "level":
		label = func(a types.Achievement) string { return string(a.Level) }
	default:
		return nil, fmt.Errorf("cannot group achievements by %q", column)
	}

	counts := make(map[string]int)
	for _, achievement := range r.store.filterAchievements(filter) {
		counts[label(achievement)]++
	}

	items := make([]types.CountItem, 0, len(counts))
	for key, count := range counts {
		items = append(items, types.CountItem{Label: key, Count: count})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items, nil
}

func (r *AchievementRepository) TopStudents(_ context.Context, limit int) ([]types.StudentScore, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit < 1 {
		limit = 10
	}

	byStudent := make(map[int]*types.StudentScore)
	for _, achievement := range r.store.achievements {
		if achievement.Status != types.StatusAdminApproved {
			continue
		}
		score, ok := byStudent[achievement.StudentID]
		if !ok {
			student := r.store.users[achievement.StudentID]
			score = &types.StudentScore{
				StudentID:     student.ID,
				Name:          student.Name,
				StudentNumber: student.StudentID,
				Department:    student.Department,
				Section:       student.Section,
			}
			byStudent[achievement.StudentID] = score
		}
		score.ApprovedCount++
		score.TotalPoints += achievement.Points
	}

	scores := make([]types.StudentScore, 0, len(byStudent))
	for _, score := range byStudent {
		scores = append(scores, *score)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].TotalPoints != scores[j].TotalPoints {
			return scores[i].TotalPoints > scores[j].TotalPoints
		}
		return scores[i].StudentID < scores[j].StudentID
	})
	if len(scores) > limit {
		scores = scores[:limit]
	}
	return scores, nil
}
