package review

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for reviews.
type Metrics struct {
	ReviewsTotal     *prometheus.CounterVec
	ReviewDuration   prometheus.Histogram
	FixAttempts      prometheus.Histogram
	FixesTotal       *prometheus.CounterVec
	StyleScore       prometheus.Histogram
	FixOffersTotal   prometheus.Counter
	CriticalFindings prometheus.Counter
	SecretsRedacted  *prometheus.CounterVec
}

// NewMetrics registers a fresh set of metrics with reg.
//
// Metrics:
//   - codereview_reviews_total{status} - reviews by pipeline status
//   - codereview_review_duration_seconds - review plus fix wall time
//   - codereview_fix_attempts - fix loop iterations per fix run
//   - codereview_fixes_total{outcome} - fix runs by outcome
//   - codereview_style_score - style scores reported
//   - codereview_fix_offers_total - reviews that needed a fix
//   - codereview_critical_findings_total - critical issues found
//   - codereview_secrets_redacted_total{rule} - secrets redacted before review
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ReviewsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codereview_reviews_total",
				Help: "Total number of reviews by pipeline status",
			},
			[]string{"status"},
		),
		ReviewDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codereview_review_duration_seconds",
				Help:    "Duration of a review including any fix run",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
			},
		),
		FixAttempts: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codereview_fix_attempts",
				Help:    "Fix loop iterations per fix run",
				Buckets: prometheus.LinearBuckets(1, 1, 5),
			},
		),
		FixesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codereview_fixes_total",
				Help: "Total number of fix runs by outcome",
			},
			[]string{"outcome"}, // "fixed", "exhausted", "aborted"
		),
		StyleScore: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codereview_style_score",
				Help:    "Style scores reported by the style checker",
				Buckets: prometheus.LinearBuckets(10, 10, 10),
			},
		),
		FixOffersTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "codereview_fix_offers_total",
				Help: "Total number of reviews whose findings warranted a fix",
			},
		),
		CriticalFindings: f.NewCounter(
			prometheus.CounterOpts{
				Name: "codereview_critical_findings_total",
				Help: "Total number of critical issues found",
			},
		),
		SecretsRedacted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codereview_secrets_redacted_total",
				Help: "Total number of secrets redacted from code before review",
			},
			[]string{"rule"},
		),
	}
}

// RecordReview records a finished review.
func (m *Metrics) RecordReview(r *Report) {
	if m == nil {
		return
	}
	m.ReviewsTotal.WithLabelValues(strings.ToLower(r.Status)).Inc()
	m.ReviewDuration.Observe(r.Duration.Seconds())
	if r.Style != nil {
		m.StyleScore.Observe(float64(r.Style.Score))
	}
	if r.Analysis != nil {
		m.CriticalFindings.Add(float64(len(r.Analysis.Critical())))
	}
	for _, f := range r.Secrets {
		m.SecretsRedacted.WithLabelValues(f.RuleID).Inc()
	}
	if r.NeedsFix {
		m.FixOffersTotal.Inc()
	}
	if r.Fix != nil {
		m.FixAttempts.Observe(float64(r.Fix.Attempts))
		m.FixesTotal.WithLabelValues(r.Fix.Outcome).Inc()
	}
}
