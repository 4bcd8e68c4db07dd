package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/achievetrack/apiserver/internal/storage"
	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
)

const topStudentsLimit = 10

// AchievementRepository defines persistence operations for achievements.
type AchievementRepository interface {
	Create(ctx context.Context, achievement types.Achievement) (types.Achievement, error)
	Get(ctx context.Context, id int) (types.Achievement, error)
	GetByVerificationCode(ctx context.Context, code string) (types.Achievement, error)
	List(ctx context.Context, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error)
	ApplyStatusChange(ctx context.Context, change types.StatusChange) (types.Achievement, error)
	SetBadge(ctx context.Context, id int, badge types.Badge) error
	ApprovedPoints(ctx context.Context, studentID int) (int, error)
	CountBy(ctx context.Context, column string, filter types.AchievementFilter) ([]types.CountItem, error)
	TopStudents(ctx context.Context, limit int) ([]types.StudentScore, error)
}

// Proof is an uploaded proof document awaiting storage.
type Proof struct {
	Data        []byte
	ContentType string
	Extension   string
}

// AchievementService owns the achievement lifecycle: submission, the
// two-stage review and the scoring that follows final approval.
type AchievementService struct {
	repo       AchievementRepository
	users      UserRepository
	storage    *storage.Storage
	validator  *Validator
	dispatcher *Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewAchievementService(
	repo AchievementRepository,
	users UserRepository,
	objectStorage *storage.Storage,
	validator *Validator,
	dispatcher *Dispatcher,
	logger *slog.Logger,
) *AchievementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AchievementService{
		repo:       repo,
		users:      users,
		storage:    objectStorage,
		validator:  validator,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Create submits a new pending achievement on behalf of student.
func (s *AchievementService) Create(ctx context.Context, student types.User, input types.NewAchievement, proof *Proof) (types.Achievement, error) {
	if student.Role != types.RoleStudent {
		return types.Achievement{}, ErrForbidden
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Category = types.Category(strings.ToLower(strings.TrimSpace(string(input.Category))))
	input.Level = types.Level(strings.ToLower(strings.TrimSpace(string(input.Level))))

	var extra fieldErrors
	if input.Category != "" && !input.Category.Valid() {
		extra.add("category", "category must be one of academic, sports, technical, cultural, other")
	}
	if input.Level != "" && !input.Level.Valid() {
		extra.add("level", "level must be one of college, university, state, national, international")
	}
	if err := extra.merge(s.validator.Struct(input)); err != nil {
		return types.Achievement{}, err
	}

	if proof != nil && len(proof.Data) > 0 {
		key, err := s.storage.PutProof(ctx, student.ID, proof.Data, proof.ContentType, proof.Extension)
		if err != nil {
			if errors.Is(err, storage.ErrDisabled) {
				return types.Achievement{}, invalidField("proof", "proof uploads are not enabled")
			}
			return types.Achievement{}, err
		}
		input.ProofDocument = key
	}

	department := student.Department
	if department == "" {
		department = student.Branch
	}

	achievement, err := s.repo.Create(ctx, types.Achievement{
		Title:         input.Title,
		Description:   input.Description,
		Date:          input.Date,
		Category:      input.Category,
		Level:         input.Level,
		StudentID:     student.ID,
		Department:    department,
		ProofDocument: input.ProofDocument,
	})
	if err != nil {
		if input.ProofDocument != "" {
			if derr := s.storage.DeleteProof(context.WithoutCancel(ctx), input.ProofDocument); derr != nil {
				s.logger.Warn("orphaned proof document",
					slog.String("key", input.ProofDocument),
					slog.Any("error", derr),
				)
			}
		}
		return types.Achievement{}, err
	}

	s.logger.Info("achievement submitted",
		slog.Int("achievement_id", achievement.ID),
		slog.Int("student_id", student.ID),
		slog.String("level", string(achievement.Level)),
	)
	s.dispatcher.Emit(ctx, newEvent(types.EventAchievementSubmitted, achievement, "", student.ID))
	return achievement, nil
}

// Get returns an achievement the actor may read. Students only see their own.
func (s *AchievementService) Get(ctx context.Context, actor types.User, id int) (types.Achievement, error) {
	achievement, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Achievement{}, err
	}
	if !canRead(actor, achievement) {
		return types.Achievement{}, ErrForbidden
	}
	return achievement, nil
}

// ListMine returns the actor's own submissions, newest first.
func (s *AchievementService) ListMine(ctx context.Context, actor types.User, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error) {
	if actor.Role != types.RoleStudent {
		return nil, 0, ErrForbidden
	}
	filter.StudentID = actor.ID
	filter.Section = 0
	return s.list(ctx, filter, offset, limit)
}

// List returns achievements across all students. Staff only.
func (s *AchievementService) List(ctx context.Context, actor types.User, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error) {
	if !actor.Role.IsStaff() {
		return nil, 0, ErrForbidden
	}
	return s.list(ctx, filter, offset, limit)
}

// ReviewQueue lists what awaits the actor's stage: pending items from the
// counsellor's assigned section, or counsellor approved items for admins.
func (s *AchievementService) ReviewQueue(ctx context.Context, actor types.User, offset, limit int) ([]types.Achievement, int, error) {
	var filter types.AchievementFilter
	switch actor.Role {
	case types.RoleCounsellor:
		filter.Status = types.StatusPending
		filter.Section = actor.AssignedSection
	case types.RoleAdmin:
		filter.Status = types.StatusCounsellorApproved
	default:
		return nil, 0, ErrForbidden
	}
	return s.list(ctx, filter, offset, limit)
}

func (s *AchievementService) list(ctx context.Context, filter types.AchievementFilter, offset, limit int) ([]types.Achievement, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, invalidField("status", "unknown status")
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, 0, invalidField("category", "unknown category")
	}
	if filter.Level != "" && !filter.Level.Valid() {
		return nil, 0, invalidField("level", "unknown level")
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.List(ctx, filter, offset, limit)
}

// Review moves an achievement to target on behalf of actor.
//
// The stage comes from target: counsellor_* targets are stage one and need
// a counsellor, admin_* targets are stage two and need an admin. The write
// is conditional on the status read here, so of two concurrent reviewers
// only one succeeds and the other gets ErrInvalidTransition.
func (s *AchievementService) Review(ctx context.Context, actor types.User, id int, target types.Status, reason string) (types.Achievement, error) {
	reason = strings.TrimSpace(reason)

	from, requiredRole, err := transitionFor(target)
	if err != nil {
		return types.Achievement{}, err
	}
	if target.Rejected() && reason == "" {
		return types.Achievement{}, invalidField("reason", "a reason is required when rejecting")
	}
	if len(reason) > 1000 {
		return types.Achievement{}, invalidField("reason", "reason must be at most 1000 characters")
	}
	if actor.Role != requiredRole {
		return types.Achievement{}, ErrForbidden
	}

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return types.Achievement{}, err
	}
	if current.Status != from {
		return types.Achievement{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, current.Status, target)
	}

	change := types.StatusChange{
		AchievementID: id,
		From:          from,
		To:            target,
		ActorID:       actor.ID,
		At:            s.now().UTC(),
	}
	if target.Rejected() {
		change.Reason = reason
	}
	if target == types.StatusAdminApproved {
		code, err := MintVerificationCode()
		if err != nil {
			return types.Achievement{}, err
		}
		change.VerificationCode = code
		change.Points = PointsFor(current.Level)
	}

	updated, err := s.repo.ApplyStatusChange(ctx, change)
	if err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			return types.Achievement{}, fmt.Errorf("%w: achievement %d is no longer %s", ErrInvalidTransition, id, from)
		}
		return types.Achievement{}, err
	}

	if target == types.StatusAdminApproved {
		updated = s.awardBadge(ctx, updated)
	}

	s.logger.Info("achievement reviewed",
		slog.Int("achievement_id", updated.ID),
		slog.Int("actor_id", actor.ID),
		slog.String("from", string(from)),
		slog.String("to", string(updated.Status)),
	)
	s.dispatcher.Emit(ctx, newEvent(types.EventAchievementReviewed, updated, from, actor.ID))
	return updated, nil
}

// awardBadge records the student's tier after an approval. The approval
// is already committed, so failures here are logged and the live stats
// remain authoritative.
func (s *AchievementService) awardBadge(ctx context.Context, achievement types.Achievement) types.Achievement {
	total, err := s.repo.ApprovedPoints(ctx, achievement.StudentID)
	if err != nil {
		s.logger.Error("compute approved points failed",
			slog.Int("student_id", achievement.StudentID),
			slog.Any("error", err),
		)
		return achievement
	}

	badge := BadgeFor(total)
	if err := s.repo.SetBadge(ctx, achievement.ID, badge); err != nil {
		s.logger.Error("record badge failed",
			slog.Int("achievement_id", achievement.ID),
			slog.Any("error", err),
		)
		return achievement
	}
	achievement.Badge = badge
	return achievement
}

// transitionFor returns the status a target may be reached from and the
// role allowed to perform it.
func transitionFor(target types.Status) (types.Status, types.Role, error) {
	switch target {
	case types.StatusCounsellorApproved, types.StatusCounsellorRejected:
		return types.StatusPending, types.RoleCounsellor, nil
	case types.StatusAdminApproved, types.StatusAdminRejected:
		return types.StatusCounsellorApproved, types.RoleAdmin, nil
	case types.StatusPending:
		return "", "", invalidField("status", "achievements cannot be moved back to pending")
	default:
		return "", "", invalidField("status", fmt.Sprintf("unknown status %q", target))
	}
}

// ProofDocument opens the stored proof of an achievement the actor may
// read. The caller closes the object.
func (s *AchievementService) ProofDocument(ctx context.Context, actor types.User, id int) (types.Achievement, *storage.Object, error) {
	achievement, err := s.Get(ctx, actor, id)
	if err != nil {
		return types.Achievement{}, nil, err
	}
	if achievement.ProofDocument == "" {
		return types.Achievement{}, nil, ErrNotFound
	}

	obj, err := s.storage.OpenProof(ctx, achievement.ProofDocument)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrDisabled) {
			return types.Achievement{}, nil, ErrNotFound
		}
		return types.Achievement{}, nil, err
	}
	return achievement, obj, nil
}

// Stats aggregates achievements for the staff dashboard.
func (s *AchievementService) Stats(ctx context.Context, actor types.User, filter types.AchievementFilter) (types.AchievementStats, error) {
	if !actor.Role.IsStaff() {
		return types.AchievementStats{}, ErrForbidden
	}

	var (
		stats types.AchievementStats
		err   error
	)
	if stats.ByStatus, err = s.repo.CountBy(ctx, "status", filter); err != nil {
		return types.AchievementStats{}, err
	}
	if stats.ByCategory, err = s.repo.CountBy(ctx, "category", filter); err != nil {
		return types.AchievementStats{}, err
	}
	if stats.ByLevel, err = s.repo.CountBy(ctx, "level", filter); err != nil {
		return types.AchievementStats{}, err
	}
	for _, item := range stats.ByStatus {
		stats.Total += item.Count
	}

	if stats.TopStudents, err = s.repo.TopStudents(ctx, topStudentsLimit); err != nil {
		return types.AchievementStats{}, err
	}
	for i := range stats.TopStudents {
		stats.TopStudents[i].Badge = BadgeFor(stats.TopStudents[i].TotalPoints)
	}
	return stats, nil
}

// UserStats summarises one student's standing. Students may only ask
// about themselves.
func (s *AchievementService) UserStats(ctx context.Context, actor types.User, studentID int) (types.UserStats, error) {
	if !actor.Role.IsStaff() && actor.ID != studentID {
		return types.UserStats{}, ErrForbidden
	}

	student, err := s.users.GetByID(ctx, studentID)
	if err != nil {
		return types.UserStats{}, err
	}

	counts, err := s.repo.CountBy(ctx, "status", types.AchievementFilter{StudentID: studentID})
	if err != nil {
		return types.UserStats{}, err
	}
	points, err := s.repo.ApprovedPoints(ctx, studentID)
	if err != nil {
		return types.UserStats{}, err
	}

	stats := types.UserStats{
		StudentScore: types.StudentScore{
			StudentID:     student.ID,
			Name:          student.Name,
			StudentNumber: student.StudentID,
			Department:    student.Department,
			Section:       student.Section,
			TotalPoints:   points,
			Badge:         BadgeFor(points),
		},
	}
	for _, item := range counts {
		status := types.Status(item.Label)
		stats.Total += item.Count
		switch {
		case status == types.StatusAdminApproved:
			stats.Approved += item.Count
		case status.Rejected():
			stats.Rejected += item.Count
		default:
			stats.Pending += item.Count
		}
	}
	stats.ApprovedCount = stats.Approved
	return stats, nil
}
