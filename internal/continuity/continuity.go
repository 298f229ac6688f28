// Package continuity audits how well information survives the stage
// transitions of a campaign. The audit is read-only; its report advises
// whether a rollback is warranted.
package continuity

import (
	"math"
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Severity grades a continuity issue.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Preservation dimensions, in report order.
const (
	DimensionContent          = "content"
	DimensionDesign           = "design"
	DimensionAssetUtilization = "asset_utilization"
	DimensionBrand            = "brand"
)

// Trigger metrics.
const (
	MetricContinuity          = "overall_continuity"
	MetricContentPreservation = "content_preservation"
	MetricAssetUtilization    = "asset_utilization"
)

// Issue is one continuity finding.
type Issue struct {
	Scope    string   `json:"scope"`
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Penalty  int      `json:"penalty,omitempty"`
}

// TransitionScore rates one stage transition. Transitions whose target has
// not been reached are not evaluated.
type TransitionScore struct {
	From      pipeline.Stage `json:"from"`
	To        pipeline.Stage `json:"to"`
	Evaluated bool           `json:"evaluated"`
	Score     int            `json:"score"`
	Issues    []Issue        `json:"issues,omitempty"`
}

// Dimension is one preservation score.
type Dimension struct {
	Name     string  `json:"name"`
	Measured bool    `json:"measured"`
	Score    int     `json:"score"`
	Issues   []Issue `json:"issues,omitempty"`
}

// Trigger is a rollback recommendation for one metric.
type Trigger struct {
	Metric    string `json:"metric"`
	Value     int    `json:"value"`
	Threshold int    `json:"threshold"`
	Fired     bool   `json:"fired"`
	Action    string `json:"action,omitempty"`
}

// Report is the result of an audit.
type Report struct {
	CampaignID         string            `json:"campaign_id"`
	CurrentStage       pipeline.Stage    `json:"current_stage"`
	AuditedAt          time.Time         `json:"audited_at"`
	Transitions        []TransitionScore `json:"transitions"`
	TransitionQuality  int               `json:"transition_quality"`
	Preservation       []Dimension       `json:"preservation"`
	PreservationScore  int               `json:"preservation_score"`
	Overall            int               `json:"overall_continuity"`
	Triggers           []Trigger         `json:"triggers,omitempty"`
	Compliant          bool              `json:"compliant"`
	HighSeverityIssues int               `json:"high_severity_issues"`
}

// Dimension returns the named preservation dimension.
func (r Report) Dimension(name string) (Dimension, bool) {
	for _, d := range r.Preservation {
		if d.Name == name {
			return d, true
		}
	}
	return Dimension{}, false
}

// Fired returns the triggers that fired.
func (r Report) Fired() []Trigger {
	var out []Trigger
	for _, t := range r.Triggers {
		if t.Fired {
			out = append(out, t)
		}
	}
	return out
}

// Thresholds configure triggers and compliance.
type Thresholds struct {
	Continuity        int
	Preservation      int
	AssetUtilization  int
	TransitionQuality int
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Continuity:        90,
		Preservation:      95,
		AssetUtilization:  80,
		TransitionQuality: 85,
	}
}

// Auditor computes continuity reports.
type Auditor struct {
	thresholds Thresholds
	now        func() time.Time
}

// New creates an Auditor.
func New(th Thresholds) *Auditor {
	return &Auditor{thresholds: th, now: time.Now}
}

// WithClock returns a copy of a that stamps reports using now.
func (a *Auditor) WithClock(now func() time.Time) *Auditor {
	cp := *a
	cp.now = now
	return &cp
}

// Audit scores s. It never modifies s.
func (a *Auditor) Audit(s *pipeline.WorkflowState) Report {
	r := Report{AuditedAt: a.now().UTC()}
	if s == nil {
		return r
	}
	r.CampaignID = s.CampaignID
	r.CurrentStage = s.CurrentStage

	r.Transitions = transitions(s)
	r.Preservation = preservation(s)

	var tSum, tN float64
	for _, t := range r.Transitions {
		if t.Evaluated {
			tSum += float64(t.Score)
			tN++
		}
		r.HighSeverityIssues += countHigh(t.Issues)
	}
	var pSum, pN float64
	for _, d := range r.Preservation {
		if d.Measured {
			pSum += float64(d.Score)
			pN++
		}
		r.HighSeverityIssues += countHigh(d.Issues)
	}
	avgT, avgP := 100.0, 100.0
	if tN > 0 {
		avgT = tSum / tN
	}
	if pN > 0 {
		avgP = pSum / pN
	}
	r.TransitionQuality = round(avgT)
	r.PreservationScore = round(avgP)
	r.Overall = round(0.4*avgT + 0.6*avgP)

	r.Triggers = a.triggers(r)
	th := a.thresholds
	r.Compliant = r.Overall >= th.Continuity && r.PreservationScore >= th.Preservation && r.TransitionQuality >= th.TransitionQuality
	return r
}

func (a *Auditor) triggers(r Report) []Trigger {
	var out []Trigger
	add := func(metric string, value, threshold int, action string) {
		t := Trigger{Metric: metric, Value: value, Threshold: threshold, Fired: value < threshold}
		if t.Fired {
			t.Action = action
		}
		out = append(out, t)
	}

	worst := pipeline.StageDataCollection
	lowest := 101
	for _, t := range r.Transitions {
		if t.Evaluated && t.Score < lowest {
			lowest = t.Score
			worst = t.From
		}
	}
	add(MetricContinuity, r.Overall, a.thresholds.Continuity,
		"rollback to stage "+string(worst)+" to restore continuity")

	if d, ok := r.Dimension(DimensionContent); ok && d.Measured {
		add(MetricContentPreservation, d.Score, a.thresholds.Preservation,
			"rollback to stage "+string(pipeline.StageContent)+" to restore content fields")
	}
	if d, ok := r.Dimension(DimensionAssetUtilization); ok && d.Measured {
		add(MetricAssetUtilization, d.Score, a.thresholds.AssetUtilization,
			"rollback to stage "+string(pipeline.StageDesign)+" to restore asset usage")
	}
	return out
}

func countHigh(issues []Issue) int {
	n := 0
	for _, is := range issues {
		if is.Severity == SeverityHigh {
			n++
		}
	}
	return n
}

func round(f float64) int {
	return int(math.Round(f))
}

func clamp(score int) int {
	return min(max(score, 0), 100)
}
