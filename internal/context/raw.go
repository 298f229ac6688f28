package context

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// RawOutput is the loosely structured output a stage collaborator hands to
// the builder. The set of variants is closed; documents that match no known
// shape decode to UnknownOutput, which the builder rejects.
type RawOutput interface {
	Stage() pipeline.Stage
	doc() map[string]any
}

// ContentOutput carries campaign, market, dates, pricing, assets, copy and
// technical sections.
type ContentOutput struct{ Sections map[string]any }

// DesignOutput carries visual design, asset manifest, usage, content
// integration and brand sections.
type DesignOutput struct{ Sections map[string]any }

// QualityOutput carries approval, accessibility and rendering test sections.
type QualityOutput struct{ Sections map[string]any }

// DeliveryOutput carries delivery plan, final assets and tracking sections.
type DeliveryOutput struct{ Sections map[string]any }

// UnknownOutput is a document whose shape matched none of the target
// stage's sections.
type UnknownOutput struct {
	Target pipeline.Stage
	Keys   []string
}

func (ContentOutput) Stage() pipeline.Stage   { return pipeline.StageContent }
func (DesignOutput) Stage() pipeline.Stage    { return pipeline.StageDesign }
func (QualityOutput) Stage() pipeline.Stage   { return pipeline.StageQuality }
func (DeliveryOutput) Stage() pipeline.Stage  { return pipeline.StageDelivery }
func (u UnknownOutput) Stage() pipeline.Stage { return u.Target }

func (o ContentOutput) doc() map[string]any  { return o.Sections }
func (o DesignOutput) doc() map[string]any   { return o.Sections }
func (o QualityOutput) doc() map[string]any  { return o.Sections }
func (o DeliveryOutput) doc() map[string]any { return o.Sections }
func (UnknownOutput) doc() map[string]any    { return nil }

// stageSections lists the top-level sections that identify each raw shape.
var stageSections = map[pipeline.Stage][]string{
	pipeline.StageContent:  {"campaign", "market", "dates", "pricing", "assets", "copy", "technical"},
	pipeline.StageDesign:   {"visual_design", "asset_manifest", "asset_usage", "content_integration", "brand_elements"},
	pipeline.StageQuality:  {"approval", "accessibility", "rendering_tests", "validation_summaries"},
	pipeline.StageDelivery: {"delivery_plan", "final_assets", "tracking"},
}

// NewRaw wraps an already decoded document as the raw output of stage.
func NewRaw(stage pipeline.Stage, doc map[string]any) RawOutput {
	known := stageSections[stage]
	matched := false
	for _, s := range known {
		if _, ok := doc[s]; ok {
			matched = true
			break
		}
	}
	if !matched {
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return UnknownOutput{Target: stage, Keys: keys}
	}
	switch stage {
	case pipeline.StageContent:
		return ContentOutput{Sections: doc}
	case pipeline.StageDesign:
		return DesignOutput{Sections: doc}
	case pipeline.StageQuality:
		return QualityOutput{Sections: doc}
	case pipeline.StageDelivery:
		return DeliveryOutput{Sections: doc}
	}
	return UnknownOutput{Target: stage}
}

// DecodeRaw decodes a YAML or JSON document into the raw output of stage.
func DecodeRaw(stage pipeline.Stage, data []byte) (RawOutput, error) {
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s output: %w", stage, err)
	}
	return NewRaw(stage, doc), nil
}

// decodeDocument parses YAML (and therefore JSON) into a generic map. Values
// are normalized to the types encoding/json produces, so numbers are always
// float64 and a document reads the same before and after it is persisted.
func decodeDocument(data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return map[string]any{}, nil
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("document is not representable as JSON: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(js, &out); err != nil {
		return nil, err
	}
	return out, nil
}
