package pipeline

import "time"

// WorkflowState is the authoritative, persisted record of one campaign run.
type WorkflowState struct {
	CampaignID      string           `json:"campaign_id"`
	Version         int64            `json:"version"`
	CurrentStage    Stage            `json:"current_stage"`
	CompletedStages []Stage          `json:"completed_stages"`
	Contexts        Contexts         `json:"contexts"`
	Metadata        WorkflowMetadata `json:"metadata"`
}

// Contexts holds the most recent context for each stage reached.
type Contexts struct {
	DataCollection *DataCollectionContext `json:"data_collection,omitempty"`
	Content        *ContentContext        `json:"content,omitempty"`
	Design         *DesignContext         `json:"design,omitempty"`
	Quality        *QualityContext        `json:"quality,omitempty"`
	Delivery       *DeliveryContext       `json:"delivery,omitempty"`
}

// Get returns the context stored for stage, or nil.
func (c Contexts) Get(stage Stage) StageContext {
	switch stage {
	case StageDataCollection:
		if c.DataCollection != nil {
			return c.DataCollection
		}
	case StageContent:
		if c.Content != nil {
			return c.Content
		}
	case StageDesign:
		if c.Design != nil {
			return c.Design
		}
	case StageQuality:
		if c.Quality != nil {
			return c.Quality
		}
	case StageDelivery:
		if c.Delivery != nil {
			return c.Delivery
		}
	}
	return nil
}

// WorkflowMetadata tracks timing and the transition history.
type WorkflowMetadata struct {
	StartedAt         time.Time    `json:"started_at"`
	StageStartedAt    time.Time    `json:"stage_started_at"`
	TotalProcessingMS int64        `json:"total_processing_ms"`
	Transitions       []Transition `json:"transitions,omitempty"`
}

// Transition is one append-only history record.
type Transition struct {
	From       Stage     `json:"from"`
	To         Stage     `json:"to"`
	At         time.Time `json:"at"`
	DurationMS int64     `json:"duration_ms"`
}

// Current returns the context of the current stage.
func (s *WorkflowState) Current() StageContext {
	return s.Contexts.Get(s.CurrentStage)
}
