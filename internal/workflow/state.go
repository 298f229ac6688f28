// Package workflow holds the campaign state machine: the pure transition
// functions over pipeline.WorkflowState and the Machine that persists them.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// StateSchema names the workflow state in structural errors.
const StateSchema = "workflow_state"

// Create returns the initial state of campaign, positioned at data
// collection.
func Create(campaign string, dc *pipeline.DataCollectionContext, now time.Time) (*pipeline.WorkflowState, error) {
	if err := gateway.ValidateCampaignID(campaign); err != nil {
		return nil, &pipeline.StructuralValidationError{
			Schema: StateSchema,
			Issues: []pipeline.FieldIssue{{Path: "campaign_id", Reason: err.Error()}},
		}
	}
	if dc == nil {
		return nil, &pipeline.StructuralValidationError{
			Schema: StateSchema,
			Issues: []pipeline.FieldIssue{{Path: "contexts.data_collection", Reason: "data collection context is required"}},
		}
	}
	if dc.CampaignID != campaign {
		return nil, &pipeline.StructuralValidationError{
			Schema: StateSchema,
			Issues: []pipeline.FieldIssue{{Path: "contexts.data_collection.campaign_id",
				Reason: fmt.Sprintf("context belongs to %q", dc.CampaignID)}},
		}
	}
	now = now.UTC()
	return &pipeline.WorkflowState{
		CampaignID:      campaign,
		Version:         1,
		CurrentStage:    pipeline.StageDataCollection,
		CompletedStages: []pipeline.Stage{pipeline.StageDataCollection},
		Contexts:        pipeline.Contexts{DataCollection: dc},
		Metadata: pipeline.WorkflowMetadata{
			StartedAt:      now,
			StageStartedAt: now,
		},
	}, nil
}

// CheckSuccessor returns an OrderingError unless next immediately follows
// current.
func CheckSuccessor(current, next pipeline.Stage) error {
	want, ok := current.Next()
	if !ok || want != next {
		return &pipeline.OrderingError{Current: current, Attempted: next, Expected: want}
	}
	return nil
}

// Advance returns a new state with sc recorded as the context of next.
// s is never modified.
func Advance(s *pipeline.WorkflowState, next pipeline.Stage, sc pipeline.StageContext, now time.Time) (*pipeline.WorkflowState, error) {
	if s == nil {
		return nil, &pipeline.StructuralValidationError{
			Schema: StateSchema,
			Issues: []pipeline.FieldIssue{{Path: "$", Reason: "state is nil"}},
		}
	}
	if err := CheckSuccessor(s.CurrentStage, next); err != nil {
		return nil, err
	}
	var issues []pipeline.FieldIssue
	switch {
	case pipeline.IsNil(sc):
		issues = append(issues, pipeline.FieldIssue{Path: "contexts." + string(next), Reason: "context is nil"})
	case sc.Stage() != next:
		issues = append(issues, pipeline.FieldIssue{Path: "contexts." + string(next),
			Reason: fmt.Sprintf("context is for stage %s", sc.Stage())})
	case sc.Campaign() != s.CampaignID:
		issues = append(issues, pipeline.FieldIssue{Path: "contexts." + string(next) + ".campaign_id",
			Reason: fmt.Sprintf("context belongs to %q, state to %q", sc.Campaign(), s.CampaignID)})
	}
	if len(issues) > 0 {
		return nil, &pipeline.StructuralValidationError{Schema: StateSchema, Issues: issues}
	}

	now = now.UTC()
	elapsed := now.Sub(s.Metadata.StageStartedAt).Milliseconds()
	if elapsed < 0 {
		elapsed = 0
	}

	out := *s
	out.Version = s.Version + 1
	out.CurrentStage = next
	out.CompletedStages = append(slices.Clone(s.CompletedStages), next)
	out.Contexts = withContext(s.Contexts, sc)
	out.Metadata.StageStartedAt = now
	out.Metadata.TotalProcessingMS = s.Metadata.TotalProcessingMS + elapsed
	out.Metadata.Transitions = append(slices.Clone(s.Metadata.Transitions), pipeline.Transition{
		From:       s.CurrentStage,
		To:         next,
		At:         now,
		DurationMS: elapsed,
	})
	return &out, nil
}

func withContext(c pipeline.Contexts, sc pipeline.StageContext) pipeline.Contexts {
	switch v := sc.(type) {
	case *pipeline.DataCollectionContext:
		c.DataCollection = v
	case *pipeline.ContentContext:
		c.Content = v
	case *pipeline.DesignContext:
		c.Design = v
	case *pipeline.QualityContext:
		c.Quality = v
	case *pipeline.DeliveryContext:
		c.Delivery = v
	}
	return c
}

// Report is the result of ValidateAccumulation.
type Report struct {
	IsValid         bool     `json:"is_valid"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

func (r *Report) fail(issue, recommendation string) {
	r.Issues = append(r.Issues, issue)
	if recommendation != "" && !slices.Contains(r.Recommendations, recommendation) {
		r.Recommendations = append(r.Recommendations, recommendation)
	}
}

// ValidateAccumulation is a sanity pass over a state: the recorded history
// must follow the expected progression, every context must belong to the
// campaign and carry the data collection, and the contexts the current
// stage depends on must be present and embedded unchanged.
func ValidateAccumulation(s *pipeline.WorkflowState) Report {
	r := Report{}
	if s == nil {
		r.fail("state is nil", "recover or create the workflow state")
		return r
	}

	if len(s.CompletedStages) == 0 {
		r.fail("completed_stages is empty", "recreate the workflow state")
	} else {
		for i, st := range s.CompletedStages {
			if i >= len(pipeline.ExpectedProgression) || pipeline.ExpectedProgression[i] != st {
				r.fail(fmt.Sprintf("completed_stages[%d] is %s, expected progression does not allow it", i, st),
					"restore the state from the last valid handoff")
				break
			}
		}
		if last := s.CompletedStages[len(s.CompletedStages)-1]; last != s.CurrentStage {
			r.fail(fmt.Sprintf("current_stage %s is not the last completed stage %s", s.CurrentStage, last),
				"restore the state from the last valid handoff")
		}
	}

	if s.Contexts.DataCollection == nil {
		r.fail("data collection context is missing", "rerun data collection")
	}
	for _, st := range pipeline.ExpectedProgression {
		sc := s.Contexts.Get(st)
		if sc == nil {
			continue
		}
		if sc.Campaign() != s.CampaignID {
			r.fail(fmt.Sprintf("%s context belongs to %q, state to %q", st, sc.Campaign(), s.CampaignID),
				fmt.Sprintf("rebuild the %s context", st))
		}
		if st != pipeline.StageDataCollection && pipeline.DataCollectionOf(sc) == nil {
			r.fail(fmt.Sprintf("%s context does not carry the data collection context", st),
				fmt.Sprintf("rebuild the %s context from its predecessor", st))
		}
	}

	if s.Contexts.Get(s.CurrentStage) == nil {
		r.fail(fmt.Sprintf("context of current stage %s is missing", s.CurrentStage),
			fmt.Sprintf("resubmit the %s stage", s.CurrentStage))
	}
	if prev, ok := s.CurrentStage.Prev(); ok && s.Contexts.Get(prev) == nil {
		r.fail(fmt.Sprintf("context of %s, required by %s, is missing", prev, s.CurrentStage),
			fmt.Sprintf("roll back to %s", prev))
	}

	checkEmbedded(&r, "design.content_context", s.Contexts.Design != nil, func() (any, any) {
		return s.Contexts.Design.ContentContext, s.Contexts.Content
	})
	checkEmbedded(&r, "quality.design_context", s.Contexts.Quality != nil, func() (any, any) {
		return s.Contexts.Quality.DesignContext, s.Contexts.Design
	})
	checkEmbedded(&r, "delivery.quality_context", s.Contexts.Delivery != nil, func() (any, any) {
		return s.Contexts.Delivery.QualityContext, s.Contexts.Quality
	})

	r.IsValid = len(r.Issues) == 0
	return r
}

// checkEmbedded compares an embedded predecessor with the stored one by
// their encoded form.
func checkEmbedded(r *Report, path string, applies bool, pair func() (any, any)) {
	if !applies {
		return
	}
	embedded, stored := pair()
	a, errA := json.Marshal(embedded)
	b, errB := json.Marshal(stored)
	if errA != nil || errB != nil {
		r.fail(fmt.Sprintf("%s cannot be encoded", path), "")
		return
	}
	null := []byte("null")
	switch {
	case bytes.Equal(b, null):
		return
	case bytes.Equal(a, null):
		r.fail(fmt.Sprintf("%s is missing", path), "rebuild the stage from the stored predecessor")
	case !bytes.Equal(a, b):
		r.fail(fmt.Sprintf("%s differs from the stored predecessor context", path),
			"rebuild the stage from the stored predecessor")
	}
}
