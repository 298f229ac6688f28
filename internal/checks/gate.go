package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/schema"
)

// GateResult is the structured verdict of one handoff gate.
type GateResult struct {
	Campaign string                `json:"campaign_id"`
	Stage    pipeline.Stage        `json:"stage"`
	Passed   bool                  `json:"passed"`
	Score    int                   `json:"quality_score"`
	Blocking []pipeline.FieldIssue `json:"blocking,omitempty"`
	Advisory []pipeline.FieldIssue `json:"advisory,omitempty"`
}

// JSON returns the gate result as indented JSON.
func (g *GateResult) JSON() (string, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Gate turns a checker result into a pass/fail verdict. It returns a
// *pipeline.StructuralValidationError when any schema-level violation is
// present, otherwise a *pipeline.ConsistencyError for remaining blockers.
func (c *Checker) Gate(campaign string, res Result) (*GateResult, error) {
	g := &GateResult{Campaign: campaign, Stage: res.Stage, Score: res.QualityScore, Passed: true}

	structural := false
	for _, v := range res.Violations {
		is := pipeline.FieldIssue{Path: v.Path, Reason: v.Message}
		if !v.Class.Blocking() {
			g.Advisory = append(g.Advisory, is)
			continue
		}
		if v.Class == ClassStructural || v.Class == ClassMissingField {
			structural = true
		}
		g.Blocking = append(g.Blocking, is)
	}
	if c.opts.HardGateScore > 0 && res.QualityScore < c.opts.HardGateScore {
		g.Blocking = append(g.Blocking, pipeline.FieldIssue{
			Path:   "$",
			Reason: fmt.Sprintf("quality score %d below gate %d", res.QualityScore, c.opts.HardGateScore),
		})
	}
	if len(g.Blocking) == 0 {
		return g, nil
	}

	g.Passed = false
	if structural {
		return g, &pipeline.StructuralValidationError{Schema: schema.KeyFor(res.Stage), Issues: g.Blocking}
	}
	return g, &pipeline.ConsistencyError{Stage: res.Stage, Issues: g.Blocking}
}
