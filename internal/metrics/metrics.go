// Package metrics provides Prometheus instruments for handoffs, validation
// and continuity audits.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "campaignflow"

// Metrics holds the pipeline instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Handoffs counts envelope handoffs.
	// Labels: source, target, outcome (persisted, rejected, failed)
	Handoffs *prometheus.CounterVec

	// Validations counts checker verdicts.
	// Labels: stage, outcome (passed, blocked)
	Validations *prometheus.CounterVec

	// QualityScore is the distribution of checker quality scores.
	// Labels: stage
	QualityScore *prometheus.HistogramVec

	// SubmitDuration measures a full submit from build to audit.
	// Labels: stage
	SubmitDuration *prometheus.HistogramVec

	// Continuity is the latest audit score per campaign.
	// Labels: campaign, metric (overall, transition, preservation)
	Continuity *prometheus.GaugeVec

	// RollbackTriggers counts fired rollback recommendations.
	// Labels: metric
	RollbackTriggers *prometheus.CounterVec
}

// New creates the instruments and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Handoffs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handoff",
				Name:      "total",
				Help:      "Total number of stage handoffs by outcome",
			},
			[]string{"source", "target", "outcome"},
		),
		Validations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "checker",
				Name:      "validations_total",
				Help:      "Total number of stage context validations by outcome",
			},
			[]string{"stage", "outcome"},
		),
		QualityScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "checker",
				Name:      "quality_score",
				Help:      "Quality score assigned to stage contexts",
				Buckets:   prometheus.LinearBuckets(10, 10, 10),
			},
			[]string{"stage"},
		),
		SubmitDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "submit_duration_seconds",
				Help:      "Duration of stage submissions in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"stage"},
		),
		Continuity: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "continuity",
				Name:      "score",
				Help:      "Latest continuity audit score per campaign",
			},
			[]string{"campaign", "metric"},
		),
		RollbackTriggers: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "continuity",
				Name:      "rollback_triggers_total",
				Help:      "Total number of fired rollback recommendations",
			},
			[]string{"metric"},
		),
	}
}

// RecordHandoff counts one handoff attempt.
func (m *Metrics) RecordHandoff(source, target, outcome string) {
	if m == nil {
		return
	}
	m.Handoffs.WithLabelValues(source, target, outcome).Inc()
}

// RecordValidation counts one checker verdict and observes its score.
func (m *Metrics) RecordValidation(stage string, passed bool, score int) {
	if m == nil {
		return
	}
	outcome := "passed"
	if !passed {
		outcome = "blocked"
	}
	m.Validations.WithLabelValues(stage, outcome).Inc()
	m.QualityScore.WithLabelValues(stage).Observe(float64(score))
}

// ObserveSubmit records how long a submit of stage took.
func (m *Metrics) ObserveSubmit(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordAudit sets the continuity gauges of campaign and counts fired
// triggers.
func (m *Metrics) RecordAudit(campaign string, overall, transition, preservation int, fired []string) {
	if m == nil {
		return
	}
	m.Continuity.WithLabelValues(campaign, "overall").Set(float64(overall))
	m.Continuity.WithLabelValues(campaign, "transition").Set(float64(transition))
	m.Continuity.WithLabelValues(campaign, "preservation").Set(float64(preservation))
	for _, metric := range fired {
		m.RollbackTriggers.WithLabelValues(metric).Inc()
	}
}
