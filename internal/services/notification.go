package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/achievetrack/apiserver/types"
)

const notificationListLimit = 50

// NotificationRepository defines persistence operations for notifications.
type NotificationRepository interface {
	Create(ctx context.Context, notification types.Notification) (types.Notification, error)
	Get(ctx context.Context, id int) (types.Notification, error)
	ListForRecipient(ctx context.Context, recipientID, limit int) ([]types.Notification, error)
	CountUnread(ctx context.Context, recipientID int) (int, error)
	MarkRead(ctx context.Context, id int) error
}

// NotificationService serves a user's own notifications and turns
// achievement events into new ones.
type NotificationService struct {
	repo   NotificationRepository
	users  UserRepository
	logger *slog.Logger
}

func NewNotificationService(repo NotificationRepository, users UserRepository, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{repo: repo, users: users, logger: logger}
}

func (s *NotificationService) List(ctx context.Context, actor types.User) ([]types.Notification, error) {
	return s.repo.ListForRecipient(ctx, actor.ID, notificationListLimit)
}

func (s *NotificationService) UnreadCount(ctx context.Context, actor types.User) (int, error) {
	return s.repo.CountUnread(ctx, actor.ID)
}

// MarkRead flips the read flag. Only the recipient may do so; anyone else
// sees NotFound so ids of other users' notifications are not confirmed.
func (s *NotificationService) MarkRead(ctx context.Context, actor types.User, id int) error {
	notification, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if notification.RecipientID != actor.ID {
		return ErrNotFound
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *NotificationService) Name() string {
	return "notifier"
}

// Handle creates the notifications an event calls for. Every recipient is
// attempted; the joined error reports the ones that failed. Rows are keyed
// by event and recipient, so handling a redelivered event only fills in
// the recipients that failed before.
func (s *NotificationService) Handle(ctx context.Context, event types.Event) error {
	achievement := event.Achievement

	student, err := s.users.GetByID(ctx, achievement.StudentID)
	if err != nil {
		return fmt.Errorf("load student %d: %w", achievement.StudentID, err)
	}

	var (
		recipients []int
		kind       types.NotificationType
		message    string
	)
	switch {
	case event.Type == types.EventAchievementSubmitted:
		counsellors, err := s.users.ListCounsellorsForSection(ctx, student.Section)
		if err != nil {
			return fmt.Errorf("load counsellors for section %d: %w", student.Section, err)
		}
		recipients = userIDs(counsellors)
		kind = types.NotificationFormSubmission
		message = fmt.Sprintf("%s submitted %q for review", student.Name, achievement.Title)

	case achievement.Status == types.StatusCounsellorApproved:
		admins, err := s.users.ListByRole(ctx, types.RoleAdmin)
		if err != nil {
			return fmt.Errorf("load admins: %w", err)
		}
		recipients = userIDs(admins)
		kind = types.NotificationFormSubmission
		message = fmt.Sprintf("%q by %s was approved by a counsellor and awaits final approval", achievement.Title, student.Name)

	case achievement.Status == types.StatusCounsellorRejected:
		recipients = []int{student.ID}
		kind = types.NotificationFormRejected
		message = fmt.Sprintf("Your achievement %q was rejected by your counsellor: %s", achievement.Title, reviewReason(achievement.CounsellorReview))

	case achievement.Status == types.StatusAdminApproved:
		recipients = []int{student.ID}
		kind = types.NotificationFormApproved
		message = fmt.Sprintf("Your achievement %q was approved and earned %d points. Your certificate is ready.", achievement.Title, achievement.Points)

	case achievement.Status == types.StatusAdminRejected:
		recipients = []int{student.ID}
		if review := achievement.CounsellorReview; review != nil {
			recipients = append(recipients, review.ReviewerID)
		}
		kind = types.NotificationFormRejected
		message = fmt.Sprintf("Achievement %q was rejected by an admin: %s", achievement.Title, reviewReason(achievement.AdminReview))

	default:
		return nil
	}

	var errs []error
	for _, recipientID := range recipients {
		if recipientID == event.ActorID {
			continue
		}
		_, err := s.repo.Create(ctx, types.Notification{
			RecipientID:   recipientID,
			SenderID:      event.ActorID,
			Type:          kind,
			Message:       message,
			AchievementID: achievement.ID,
			EventID:       event.ID,
		})
		if errors.Is(err, ErrDuplicateKey) {
			s.logger.Debug("notification already delivered",
				slog.String("event_id", event.ID),
				slog.Int("recipient_id", recipientID),
			)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("notify user %d: %w", recipientID, err))
			continue
		}
		s.logger.Debug("notification created",
			slog.Int("recipient_id", recipientID),
			slog.String("type", string(kind)),
			slog.Int("achievement_id", achievement.ID),
		)
	}
	return errors.Join(errs...)
}

func reviewReason(review *types.Review) string {
	if review == nil || review.RejectionReason == "" {
		return "no reason given"
	}
	return review.RejectionReason
}

func userIDs(users []types.User) []int {
	ids := make([]int, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids
}
