package pipeline

import (
	"encoding/json"
	"time"
)

// DataVersion is the schema version stamped on every envelope.
const DataVersion = "1.0.0"

// HandoffEnvelope wraps a stage context transfer. It is created once per
// transition and never modified afterwards.
type HandoffEnvelope struct {
	HandoffID       string          `json:"handoff_id"`
	CampaignID      string          `json:"campaign_id"`
	CreatedAt       time.Time       `json:"created_at"`
	SourceStage     Stage           `json:"source_stage"`
	TargetStage     Stage           `json:"target_stage"`
	DataVersion     string          `json:"data_version"`
	TraceID         string          `json:"trace_id,omitempty"`
	ExecutionTimeMS *int64          `json:"execution_time_ms,omitempty"`
	Context         json.RawMessage `json:"context"`
}
