package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/achievetrack/apiserver/internal/store/memory"
	"github.com/achievetrack/apiserver/types"
	"github.com/stretchr/testify/require"
)

const testDomain = "college.edu"

type testEnv struct {
	store         *memory.Store
	dispatcher    *Dispatcher
	users         *UserService
	achievements  *AchievementService
	certificates  *CertificateService
	notifications *NotificationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	validator := NewValidator()

	notifications := NewNotificationService(db.Notifications(), db.Users(), logger)
	dispatcher := NewDispatcher(logger, notifications)

	return &testEnv{
		store:         db,
		dispatcher:    dispatcher,
		users:         NewUserService(db.Users(), validator, testDomain),
		achievements:  NewAchievementService(db.Achievements(), db.Users(), nil, validator, dispatcher, logger),
		certificates:  NewCertificateService(db.Achievements(), db.Users(), "https://portal.example"),
		notifications: notifications,
	}
}

func studentInput(n, section int) types.NewUser {
	return types.NewUser{
		Name:       fmt.Sprintf("Student %d", n),
		Username:   fmt.Sprintf("student%d", n),
		Email:      fmt.Sprintf("student%d@mail.com", n),
		Password:   "secret123",
		Role:       types.RoleStudent,
		Department: "CSE",
		Branch:     "CSE",
		Course:     "B.Tech",
		StudentID:  fmt.Sprintf("21CS%03d", n),
		Year:       "2nd Year",
		Section:    section,
	}
}

func counsellorInput(n, section int) types.NewUser {
	return types.NewUser{
		Name:            fmt.Sprintf("Counsellor %d", n),
		Username:        fmt.Sprintf("counsellor%d", n),
		Email:           fmt.Sprintf("counsellor%d@%s", n, testDomain),
		Password:        "secret123",
		Role:            types.RoleCounsellor,
		Branch:          "CSE",
		Course:          "B.Tech",
		CounsellorID:    fmt.Sprintf("FAC%03d", n),
		CounsellorRole:  "Class Counsellor",
		AssignedSection: section,
	}
}

func (e *testEnv) student(t *testing.T, n, section int) types.User {
	t.Helper()
	user, err := e.users.Register(context.Background(), studentInput(n, section))
	require.NoError(t, err)
	return user
}

func (e *testEnv) counsellor(t *testing.T, n, section int) types.User {
	t.Helper()
	user, err := e.users.Register(context.Background(), counsellorInput(n, section))
	require.NoError(t, err)
	return user
}

func (e *testEnv) admin(t *testing.T, n int) types.User {
	t.Helper()
	user, err := e.users.CreateAdmin(context.Background(), types.NewUser{
		Name:     fmt.Sprintf("Admin %d", n),
		Username: fmt.Sprintf("admin%d", n),
		Email:    fmt.Sprintf("admin%d@%s", n, testDomain),
		Password: "secret123",
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) submit(t *testing.T, student types.User, level types.Level) types.Achievement {
	t.Helper()
	achievement, err := e.achievements.Create(context.Background(), student, types.NewAchievement{
		Title:       fmt.Sprintf("%s level hackathon", level),
		Description: "Won first place",
		Date:        time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Category:    types.CategoryTechnical,
		Level:       level,
	}, nil)
	require.NoError(t, err)
	return achievement
}

type failingHook struct{}

func (failingHook) Name() string { return "failing" }

func (failingHook) Handle(context.Context, types.Event) error {
	return errors.New("smtp unavailable")
}

type countingFailures struct{ counts map[string]int }

func (c *countingFailures) HookFailed(hook string) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[hook]++
}
