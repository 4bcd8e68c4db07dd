package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/achievetrack/apiserver/internal/metrics"
	"github.com/achievetrack/apiserver/internal/mq"
	"github.com/achievetrack/apiserver/internal/services"
	"github.com/achievetrack/apiserver/internal/storage"
	"github.com/achievetrack/apiserver/internal/store/memory"
	"github.com/achievetrack/apiserver/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testDomain = "college.edu"
)

// pngProof is enough of a PNG for content sniffing.
var pngProof = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0}, 64)...)

type testApp struct {
	router http.Handler
	store  *memory.Store
	users  *services.UserService
}

func newTestApp(t *testing.T, broker *mq.MQ) *testApp {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	validator := services.NewValidator()
	appMetrics := metrics.New(prometheus.NewRegistry())

	notifications := services.NewNotificationService(db.Notifications(), db.Users(), logger)
	dispatcher := services.NewDispatcher(logger, appMetrics)
	dispatcher.CountFailuresWith(appMetrics)
	if broker == nil {
		dispatcher.Add(notifications)
	} else {
		dispatcher.Add(services.NewPublisher(broker, "events"))
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		go consumeEvents(ctx, broker, "events", notifications, logger)
	}

	users := services.NewUserService(db.Users(), validator, testDomain)
	achievements := services.NewAchievementService(
		db.Achievements(), db.Users(),
		storage.NewStorage(storage.NewMemoryStorage("proofs")),
		validator, dispatcher, logger,
	)

	router := NewRouter(Dependencies{
		Users:         users,
		Achievements:  achievements,
		Certificates:  services.NewCertificateService(db.Achievements(), db.Users(), "https://portal.example"),
		Notifications: notifications,
		Metrics:       appMetrics.Handler(),
		JWTSecret:     testSecret,
		TokenTTL:      time.Hour,
	})

	return &testApp{router: router, store: db, users: users}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &value), rec.Body.String())
	return value
}

type authResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

func (a *testApp) register(t *testing.T, input map[string]any) authResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/register", "", input)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[authResponse](t, rec)
}

func (a *testApp) login(t *testing.T, identifier string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"emailOrUsername": identifier,
		"password":        "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[authResponse](t, rec).Token
}

func (a *testApp) setupUsers(t *testing.T) (student, counsellor, admin string) {
	t.Helper()

	student = a.register(t, map[string]any{
		"name": "Asha Rao", "username": "asha", "email": "asha@mail.com", "password": "secret123",
		"role": "student", "department": "CSE", "branch": "CSE", "course": "B.Tech",
		"studentId": "21CS001", "year": "3rd Year", "section": 3,
	}).Token
	counsellor = a.register(t, map[string]any{
		"name": "Ravi Kumar", "username": "ravi", "email": "ravi@" + testDomain, "password": "secret123",
		"role": "counsellor", "branch": "CSE", "course": "B.Tech",
		"counsellorId": "FAC001", "counsellorRole": "Class Counsellor", "assignedSection": 3,
	}).Token

	_, err := a.users.CreateAdmin(context.Background(), types.NewUser{
		Name: "Dean", Username: "dean", Email: "dean@" + testDomain, Password: "secret123",
	})
	require.NoError(t, err)
	admin = a.login(t, "dean@"+testDomain)
	return student, counsellor, admin
}

func (a *testApp) submitWithProof(t *testing.T, token string, level types.Level) types.Achievement {
	t.Helper()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("title", "Smart India Hackathon"))
	require.NoError(t, form.WriteField("description", "First place, software edition"))
	require.NoError(t, form.WriteField("date", "2024-03-01"))
	require.NoError(t, form.WriteField("category", "technical"))
	require.NoError(t, form.WriteField("level", string(level)))
	part, err := form.CreateFormFile("proof", "certificate.png")
	require.NoError(t, err)
	_, err = part.Write(pngProof)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/achievements", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[types.Achievement](t, rec)
}

func statusPath(id int) string {
	return "/achievements/" + strconv.Itoa(id) + "/status"
}

func TestAchievementLifecycle(t *testing.T) {
	app := newTestApp(t, nil)
	student, counsellor, admin := app.setupUsers(t)

	achievement := app.submitWithProof(t, student, types.LevelNational)
	assert.Equal(t, types.StatusPending, achievement.Status)
	assert.NotEmpty(t, achievement.ProofDocument)
	assert.Zero(t, achievement.Points)

	rec := app.do(t, http.MethodGet, "/achievements/"+strconv.Itoa(achievement.ID)+"/proof", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, pngProof, rec.Body.Bytes())

	rec = app.do(t, http.MethodGet, "/achievements/review-queue", counsellor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[struct{ Total int }](t, rec).Total)

	rec = app.do(t, http.MethodPut, statusPath(achievement.ID), student, map[string]string{"status": "counsellor_approved"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodPut, statusPath(achievement.ID), admin, map[string]string{"status": "admin_approved"})
	assert.Equal(t, http.StatusConflict, rec.Code, "admin cannot skip the counsellor stage")

	rec = app.do(t, http.MethodPut, statusPath(achievement.ID), counsellor, map[string]string{"status": "counsellor_approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = app.do(t, http.MethodPut, statusPath(achievement.ID), admin, map[string]string{"status": "admin_approved"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decode[types.Achievement](t, rec)
	assert.Equal(t, types.StatusAdminApproved, approved.Status)
	assert.Equal(t, 50, approved.Points)
	assert.Regexp(t, `^[0-9a-f]{32}$`, approved.VerificationCode)
	assert.Equal(t, types.BadgeBronze, approved.Badge)

	rec = app.do(t, http.MethodPut, statusPath(achievement.ID), admin, map[string]string{"status": "admin_approved"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = app.do(t, http.MethodGet, "/verify/"+approved.VerificationCode, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verified struct {
		Verified    bool                  `json:"verified"`
		Achievement types.CertificateView `json:"achievement"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	assert.True(t, verified.Verified)
	assert.Equal(t, "Asha Rao", verified.Achievement.Student.Name)
	assert.Equal(t, "Dean", verified.Achievement.VerifiedBy)
	assert.NotContains(t, rec.Body.String(), "asha@mail.com")

	rec = app.do(t, http.MethodGet, "/verify/0123456789abcdef0123456789abcdef", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decode[struct{ Verified bool }](t, rec).Verified)

	rec = app.do(t, http.MethodGet, "/verify/achievement/"+strconv.Itoa(achievement.ID)+"?format=png", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = app.do(t, http.MethodGet, "/achievements/user-stats", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[types.UserStats](t, rec)
	assert.Equal(t, 50, stats.TotalPoints)
	assert.Equal(t, types.BadgeBronze, stats.Badge)
	assert.Equal(t, 1, stats.Approved)

	rec = app.do(t, http.MethodGet, "/notifications", student, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	notifications := decode[[]types.Notification](t, rec)
	require.Len(t, notifications, 1)
	assert.Equal(t, types.NotificationFormApproved, notifications[0].Type)

	rec = app.do(t, http.MethodPut, "/notifications/"+strconv.Itoa(notifications[0].ID)+"/read", student, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = app.do(t, http.MethodGet, "/notifications/unread-count", student, nil)
	assert.JSONEq(t, `{"count":0}`, rec.Body.String())

	rec = app.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "achievetrack_certificates_issued_total 1")
	assert.Contains(t, rec.Body.String(), `achievetrack_points_awarded_total{level="national"} 50`)
}

func TestRejectionRequiresReason(t *testing.T) {
	app := newTestApp(t, nil)
	student, counsellor, _ := app.setupUsers(t)
	achievement := app.submitWithProof(t, student, types.LevelCollege)

	rec := app.do(t, http.MethodPut, statusPath(achievement.ID), counsellor, map[string]string{"status": "counsellor_rejected"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"reason"`)

	rec = app.do(t, http.MethodPut, statusPath(achievement.ID), counsellor, map[string]string{
		"status": "counsellor_rejected",
		"reason": "Certificate is not legible",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rejected := decode[types.Achievement](t, rec)
	assert.Empty(t, rejected.VerificationCode)
	require.NotNil(t, rejected.CounsellorReview)
	assert.Equal(t, "Certificate is not legible", rejected.CounsellorReview.RejectionReason)
}

func TestSubmitRejectsUnsupportedProof(t *testing.T) {
	app := newTestApp(t, nil)
	student, _, _ := app.setupUsers(t)

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("title", "Essay"))
	part, err := form.CreateFormFile("proof", "essay.png")
	require.NoError(t, err)
	_, err = part.Write([]byte("plain text pretending to be an image"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/achievements", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+student)
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "PDF, PNG or JPEG")
}

func TestRoleGates(t *testing.T) {
	app := newTestApp(t, nil)
	student, counsellor, admin := app.setupUsers(t)

	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/auth/me", "not-a-token", nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/achievements", student, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodGet, "/users", counsellor, nil).Code)
	assert.Equal(t, http.StatusForbidden, app.do(t, http.MethodPost, "/achievements", counsellor, map[string]string{}).Code)
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/users?role=student", admin, nil).Code)
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/achievements/stats", counsellor, nil).Code)
}

func TestDeactivatedUserLosesAccess(t *testing.T) {
	app := newTestApp(t, nil)
	student, _, admin := app.setupUsers(t)

	me := decode[types.User](t, app.do(t, http.MethodGet, "/auth/me", student, nil))
	rec := app.do(t, http.MethodPut, "/users/"+strconv.Itoa(me.ID), admin, map[string]any{
		"name": me.Name, "section": me.Section, "isActive": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, app.do(t, http.MethodGet, "/auth/me", student, nil).Code)
	rec = app.do(t, http.MethodPost, "/auth/login", "", map[string]string{"emailOrUsername": "asha", "password": "secret123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	app := newTestApp(t, nil)
	app.setupUsers(t)

	rec := app.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"name": "Other", "username": "ASHA", "email": "other@mail.com", "password": "secret123",
		"role": "student", "department": "CSE", "branch": "CSE", "course": "B.Tech",
		"studentId": "21CS002", "year": "1st Year", "section": 1,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestNotificationsThroughBroker(t *testing.T) {
	app := newTestApp(t, mq.New(mq.NewMemoryBackend(8, 0)))
	student, counsellor, _ := app.setupUsers(t)
	app.submitWithProof(t, student, types.LevelState)

	require.Eventually(t, func() bool {
		rec := app.do(t, http.MethodGet, "/notifications/unread-count", counsellor, nil)
		return rec.Code == http.StatusOK && decode[struct{ Count int }](t, rec).Count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloserReleasesInReverseOrder(t *testing.T) {
	var order []string
	errStorage := errors.New("storage close failed")
	errDB := errors.New("db close failed")

	c := &closer{}
	c.add(func() error { order = append(order, "db"); return errDB })
	c.add(func() error { order = append(order, "storage"); return errStorage })
	c.add(func() error { order = append(order, "broker"); return nil })

	err := c.close()
	assert.Equal(t, []string{"broker", "storage", "db"}, order)
	assert.ErrorIs(t, err, errStorage)
	assert.ErrorIs(t, err, errDB)

	require.NoError(t, c.close())
	assert.Len(t, order, 3)
}
