package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/achievetrack/apiserver/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestHandleCountsApprovals(t *testing.T) {
	m := New(prometheus.NewRegistry())

	require.NoError(t, m.Handle(context.Background(), types.Event{
		Type: types.EventAchievementReviewed,
		From: types.StatusCounsellorApproved,
		Achievement: types.Achievement{
			Level:  types.LevelNational,
			Status: types.StatusAdminApproved,
			Points: 50,
		},
	}))
	require.NoError(t, m.Handle(context.Background(), types.Event{
		Type:        types.EventAchievementReviewed,
		From:        types.StatusPending,
		Achievement: types.Achievement{Status: types.StatusCounsellorRejected},
	}))

	body := scrape(t, m)
	assert.Contains(t, body, "achievetrack_certificates_issued_total 1")
	assert.Contains(t, body, `achievetrack_points_awarded_total{level="national"} 50`)
	assert.Contains(t, body, `achievetrack_achievement_transitions_total{from="pending",to="counsellor_rejected"} 1`)
}

func TestHookFailedIsExposed(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.HookFailed("notifier")

	assert.Contains(t, scrape(t, m), `achievetrack_hook_failures_total{hook="notifier"} 1`)
}
