package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/achievetrack/apiserver/internal/store"
	"github.com/achievetrack/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepositoryUniqueKeys(t *testing.T) {
	ctx := context.Background()
	users := New().Users()

	_, err := users.Create(ctx, types.User{Username: "Alice", Email: "Alice@Example.com", StudentID: "S1"})
	require.NoError(t, err)

	cases := []types.User{
		{Username: "alice", Email: "other@example.com"},
		{Username: "bob", Email: "alice@example.com"},
		{Username: "bob", Email: "bob@example.com", StudentID: "S1"},
	}
	for _, user := range cases {
		_, err := users.Create(ctx, user)
		assert.ErrorIs(t, err, store.ErrDuplicateKey)
	}

	found, err := users.GetByCredential(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)
}

func TestApplyStatusChangeIsConditional(t *testing.T) {
	ctx := context.Background()
	achievements := New().Achievements()

	created, err := achievements.Create(ctx, types.Achievement{Title: "Hackathon", StudentID: 1})
	require.NoError(t, err)

	_, err = achievements.ApplyStatusChange(ctx, types.StatusChange{
		AchievementID:    created.ID,
		From:             types.StatusCounsellorApproved,
		To:               types.StatusAdminApproved,
		VerificationCode: "abc",
	})
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	_, err = achievements.ApplyStatusChange(ctx, types.StatusChange{AchievementID: 99, From: types.StatusPending, To: types.StatusCounsellorApproved})
	assert.ErrorIs(t, err, store.ErrNotFound)

	unchanged, err := achievements.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, unchanged.Status)
	assert.Empty(t, unchanged.VerificationCode)
}

func TestApplyStatusChangeSingleWinner(t *testing.T) {
	ctx := context.Background()
	achievements := New().Achievements()

	created, err := achievements.Create(ctx, types.Achievement{Title: "Olympiad", StudentID: 1})
	require.NoError(t, err)

	const reviewers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < reviewers; i++ {
		wg.Add(1)
		go func(actor int) {
			defer wg.Done()
			_, err := achievements.ApplyStatusChange(ctx, types.StatusChange{
				AchievementID: created.ID,
				From:          types.StatusPending,
				To:            types.StatusCounsellorApproved,
				ActorID:       actor,
				At:            time.Now(),
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i + 1)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestListFiltersBySection(t *testing.T) {
	ctx := context.Background()
	db := New()

	first, err := db.Users().Create(ctx, types.User{Username: "s1", Email: "s1@example.com", Section: 1})
	require.NoError(t, err)
	second, err := db.Users().Create(ctx, types.User{Username: "s2", Email: "s2@example.com", Section: 2})
	require.NoError(t, err)

	_, err = db.Achievements().Create(ctx, types.Achievement{Title: "a", StudentID: first.ID})
	require.NoError(t, err)
	_, err = db.Achievements().Create(ctx, types.Achievement{Title: "b", StudentID: second.ID})
	require.NoError(t, err)

	items, total, err := db.Achievements().List(ctx, types.AchievementFilter{Section: 2}, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Title)
}

func TestNotificationUniquePerEventAndRecipient(t *testing.T) {
	ctx := context.Background()
	notifications := New().Notifications()

	base := types.Notification{RecipientID: 1, Type: types.NotificationFormRejected, Message: "rejected", EventID: "evt-1"}
	_, err := notifications.Create(ctx, base)
	require.NoError(t, err)

	_, err = notifications.Create(ctx, base)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	other := base
	other.RecipientID = 2
	_, err = notifications.Create(ctx, other)
	require.NoError(t, err)

	untracked := base
	untracked.EventID = ""
	for range 2 {
		_, err = notifications.Create(ctx, untracked)
		require.NoError(t, err)
	}

	count, err := notifications.CountUnread(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
