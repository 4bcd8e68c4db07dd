// Package metrics exposes Prometheus collectors for the achievement
// workflow. Metrics is a workflow hook, so counts only move for committed
// events.
package metrics

import (
	"context"
	"net/http"

	"github.com/achievetrack/apiserver/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "achievetrack"

type Metrics struct {
	gatherer prometheus.Gatherer

	submissions  *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	certificates prometheus.Counter
	points       *prometheus.CounterVec
	hookFailures *prometheus.CounterVec
}

// New registers the collectors with registry. Use prometheus.NewRegistry
// in tests to avoid clashing with the default registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: registry,
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_submitted_total",
			Help:      "Achievements submitted, by category and level.",
		}, []string{"category", "level"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievement_transitions_total",
			Help:      "Committed review transitions, by source and target status.",
		}, []string{"from", "to"}),
		certificates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "certificates_issued_total",
			Help:      "Verification codes minted on final approval.",
		}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_awarded_total",
			Help:      "Points awarded on final approval, by level.",
		}, []string{"level"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Post-transition hook errors, by hook.",
		}, []string{"hook"}),
	}
	registry.MustRegister(m.submissions, m.transitions, m.certificates, m.points, m.hookFailures)
	return m
}

func (m *Metrics) Name() string {
	return "metrics"
}

func (m *Metrics) Handle(_ context.Context, event types.Event) error {
	achievement := event.Achievement
	switch event.Type {
	case types.EventAchievementSubmitted:
		m.submissions.WithLabelValues(string(achievement.Category), string(achievement.Level)).Inc()
	case types.EventAchievementReviewed:
		m.transitions.WithLabelValues(string(event.From), string(achievement.Status)).Inc()
		if achievement.Status == types.StatusAdminApproved {
			m.certificates.Inc()
			m.points.WithLabelValues(string(achievement.Level)).Add(float64(achievement.Points))
		}
	}
	return nil
}

// HookFailed counts a failed hook.
func (m *Metrics) HookFailed(hook string) {
	m.hookFailures.WithLabelValues(hook).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
