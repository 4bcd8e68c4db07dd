package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/achievetrack/apiserver/internal/mq"
	"github.com/achievetrack/apiserver/internal/store/memory"
	"github.com/achievetrack/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recipientsOf(t *testing.T, env *testEnv, user types.User) []types.NotificationType {
	t.Helper()
	notifications, err := env.notifications.List(context.Background(), user)
	require.NoError(t, err)
	kinds := make([]types.NotificationType, 0, len(notifications))
	for _, n := range notifications {
		kinds = append(kinds, n.Type)
	}
	return kinds
}

func TestNotificationRecipients(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	student := env.student(t, 1, 3)
	counsellor := env.counsellor(t, 1, 3)
	otherCounsellor := env.counsellor(t, 2, 9)
	admin := env.admin(t, 1)

	achievement := env.submit(t, student, types.LevelState)
	assert.Equal(t, []types.NotificationType{types.NotificationFormSubmission}, recipientsOf(t, env, counsellor))
	assert.Empty(t, recipientsOf(t, env, otherCounsellor))

	_, err := env.achievements.Review(ctx, counsellor, achievement.ID, types.StatusCounsellorApproved, "")
	require.NoError(t, err)
	assert.Equal(t, []types.NotificationType{types.NotificationFormSubmission}, recipientsOf(t, env, admin))
	assert.Empty(t, recipientsOf(t, env, student))

	_, err = env.achievements.Review(ctx, admin, achievement.ID, types.StatusAdminRejected, "Event not recognised")
	require.NoError(t, err)
	assert.Equal(t, []types.NotificationType{types.NotificationFormRejected}, recipientsOf(t, env, student))
	assert.Equal(t, []types.NotificationType{types.NotificationFormRejected, types.NotificationFormSubmission}, recipientsOf(t, env, counsellor))

	notifications, err := env.notifications.List(ctx, student)
	require.NoError(t, err)
	assert.Contains(t, notifications[0].Message, "Event not recognised")
	assert.Equal(t, admin.ID, notifications[0].SenderID)
	assert.Equal(t, achievement.ID, notifications[0].AchievementID)
}

func TestMarkReadOnlyByRecipient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	student := env.student(t, 1, 3)
	counsellor := env.counsellor(t, 1, 3)
	env.submit(t, student, types.LevelState)

	count, err := env.notifications.UnreadCount(ctx, counsellor)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	notifications, err := env.notifications.List(ctx, counsellor)
	require.NoError(t, err)
	id := notifications[0].ID

	assert.ErrorIs(t, env.notifications.MarkRead(ctx, student, id), ErrNotFound)
	require.NoError(t, env.notifications.MarkRead(ctx, counsellor, id))

	count, err = env.notifications.UnreadCount(ctx, counsellor)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, env.notifications.MarkRead(ctx, counsellor, 404), ErrNotFound)
}

// flakyNotifications fails the first write matching failOnce.
type flakyNotifications struct {
	NotificationRepository

	mu       sync.Mutex
	failOnce func(types.Notification) bool
	failed   bool
}

func (f *flakyNotifications) Create(ctx context.Context, notification types.Notification) (types.Notification, error) {
	f.mu.Lock()
	fail := !f.failed && f.failOnce(notification)
	if fail {
		f.failed = true
	}
	f.mu.Unlock()
	if fail {
		return types.Notification{}, errors.New("connection reset")
	}
	return f.NotificationRepository.Create(ctx, notification)
}

func (f *flakyNotifications) tripped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func kindsFor(t *testing.T, repo NotificationRepository, recipientID int) []types.NotificationType {
	t.Helper()
	notifications, err := repo.ListForRecipient(context.Background(), recipientID, 0)
	require.NoError(t, err)
	kinds := make([]types.NotificationType, 0, len(notifications))
	for _, n := range notifications {
		kinds = append(kinds, n.Type)
	}
	return kinds
}

func TestHandleSameEventTwiceNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	student := env.student(t, 1, 3)
	counsellor := env.counsellor(t, 1, 3)
	admin := env.admin(t, 1)

	achievement := env.submit(t, student, types.LevelState)
	_, err := env.achievements.Review(ctx, counsellor, achievement.ID, types.StatusCounsellorApproved, "")
	require.NoError(t, err)
	rejected, err := env.achievements.Review(ctx, admin, achievement.ID, types.StatusAdminRejected, "Duplicate entry")
	require.NoError(t, err)

	event := newEvent(types.EventAchievementReviewed, rejected, types.StatusCounsellorApproved, admin.ID)
	require.NoError(t, env.notifications.Handle(ctx, event))
	require.NoError(t, env.notifications.Handle(ctx, event))

	// One row from the in-process hook and one from the replayed event.
	assert.Len(t, recipientsOf(t, env, student), 2)
	assert.Len(t, recipientsOf(t, env, counsellor), 3)
}

func TestRedeliveredEventFillsOnlyMissingRecipients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	validator := NewValidator()
	broker := mq.New(mq.NewMemoryBackend(8, 0))
	t.Cleanup(func() { _ = broker.Close() })

	// Broker deployment: the workflow only publishes; a consumer writes.
	env := &testEnv{
		store: db,
		users: NewUserService(db.Users(), validator, testDomain),
		achievements: NewAchievementService(db.Achievements(), db.Users(), nil, validator,
			NewDispatcher(logger, NewPublisher(broker, "events")), logger),
	}
	student := env.student(t, 1, 3)
	counsellor := env.counsellor(t, 1, 3)
	admin := env.admin(t, 1)

	flaky := &flakyNotifications{
		NotificationRepository: db.Notifications(),
		failOnce: func(n types.Notification) bool {
			return n.RecipientID == counsellor.ID && n.Type == types.NotificationFormRejected
		},
	}
	consumer := NewNotificationService(flaky, db.Users(), logger)

	subCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = broker.SubscribeEvents(subCtx, "events", consumer.Handle)
	}()

	achievement := env.submit(t, student, types.LevelState)
	_, err := env.achievements.Review(ctx, counsellor, achievement.ID, types.StatusCounsellorApproved, "")
	require.NoError(t, err)
	_, err = env.achievements.Review(ctx, admin, achievement.ID, types.StatusAdminRejected, "Certificate unreadable")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		notifications, err := db.Notifications().ListForRecipient(ctx, counsellor.ID, 0)
		return err == nil && len(notifications) == 2
	}, 3*time.Second, 10*time.Millisecond)

	assert.True(t, flaky.tripped())
	assert.Equal(t, []types.NotificationType{types.NotificationFormRejected}, kindsFor(t, db.Notifications(), student.ID))
	assert.Equal(t, []types.NotificationType{types.NotificationFormRejected, types.NotificationFormSubmission}, kindsFor(t, db.Notifications(), counsellor.ID))
	assert.Equal(t, []types.NotificationType{types.NotificationFormSubmission}, kindsFor(t, db.Notifications(), admin.ID))
}
