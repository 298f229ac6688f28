// Package handoff wraps validated stage contexts in envelopes and persists
// them as the record of each stage transition.
package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/schema"
)

// Options carries the optional envelope metadata.
type Options struct {
	TraceID string
	// ExecutionTime is the wall time the source stage took. Zero omits it.
	ExecutionTime time.Duration
}

// Orchestrator prepares, validates and persists handoff envelopes.
type Orchestrator struct {
	gw       gateway.Gateway
	registry *schema.Registry
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// New creates an Orchestrator. A nil logger discards output.
func New(gw gateway.Gateway, registry *schema.Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gw:       gw,
		registry: registry,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock returns a copy of o that stamps envelopes using now.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	cp := *o
	cp.now = now
	return &cp
}

// WithIDs returns a copy of o that draws handoff ids from newID.
func (o *Orchestrator) WithIDs(newID func() string) *Orchestrator {
	cp := *o
	cp.newID = newID
	return &cp
}

// checkSuccession rejects anything but an immediate successor.
func checkSuccession(source, target pipeline.Stage) error {
	next, ok := source.Next()
	if !ok || next != target {
		return &pipeline.OrderingError{Current: source, Attempted: target, Expected: next}
	}
	return nil
}

// Prepare builds the envelope for the transition from source to target. sc
// is the context built for target; it embeds everything source handed over.
func (o *Orchestrator) Prepare(source, target pipeline.Stage, sc pipeline.StageContext, opts Options) (*pipeline.HandoffEnvelope, error) {
	if err := checkSuccession(source, target); err != nil {
		return nil, err
	}
	if pipeline.IsNil(sc) {
		return nil, &pipeline.StructuralValidationError{
			Schema: schema.KeyEnvelope,
			Issues: []pipeline.FieldIssue{{Path: "context", Reason: "context is nil"}},
		}
	}
	if sc.Stage() != target {
		return nil, &pipeline.StructuralValidationError{
			Schema: schema.KeyEnvelope,
			Issues: []pipeline.FieldIssue{{Path: "context", Reason: fmt.Sprintf("context is for stage %s, not %s", sc.Stage(), target)}},
		}
	}
	payload, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("encode %s context: %w", target, err)
	}

	env := &pipeline.HandoffEnvelope{
		HandoffID:   o.newID(),
		CampaignID:  sc.Campaign(),
		CreatedAt:   o.now().UTC(),
		SourceStage: source,
		TargetStage: target,
		DataVersion: pipeline.DataVersion,
		TraceID:     opts.TraceID,
		Context:     payload,
	}
	if opts.ExecutionTime > 0 {
		ms := opts.ExecutionTime.Milliseconds()
		env.ExecutionTimeMS = &ms
	}
	return env, nil
}

// Validate checks env against the envelope schema, the stage succession
// and the schema of the carried context. Only critical findings make the
// outcome fail.
func (o *Orchestrator) Validate(env *pipeline.HandoffEnvelope) (schema.Outcome, error) {
	if env == nil {
		return schema.Outcome{Errors: []schema.Issue{{Path: "$", Reason: "envelope is nil", Severity: schema.SeverityCritical}}}, nil
	}
	out, err := o.registry.Validate(env, schema.KeyEnvelope)
	if err != nil {
		return schema.Outcome{}, err
	}

	if env.SourceStage.Valid() && env.TargetStage.Valid() {
		if next, ok := env.SourceStage.Next(); !ok || next != env.TargetStage {
			out.Errors = append(out.Errors, schema.Issue{
				Path:     "target_stage",
				Reason:   fmt.Sprintf("%s is not the successor of %s", env.TargetStage, env.SourceStage),
				Severity: schema.SeverityCritical,
			})
		}
	}

	if len(env.Context) > 0 && env.TargetStage.Valid() {
		var head struct {
			CampaignID string `json:"campaign_id"`
		}
		if err := json.Unmarshal(env.Context, &head); err == nil && head.CampaignID != "" && head.CampaignID != env.CampaignID {
			out.Errors = append(out.Errors, schema.Issue{
				Path:     "context.campaign_id",
				Reason:   fmt.Sprintf("context belongs to %q, envelope to %q", head.CampaignID, env.CampaignID),
				Severity: schema.SeverityCritical,
			})
		}
		inner, err := o.registry.Validate(env.Context, schema.KeyFor(env.TargetStage))
		if err != nil {
			return schema.Outcome{}, err
		}
		for _, is := range inner.Errors {
			is.Path = "context." + is.Path
			out.Errors = append(out.Errors, is)
		}
	}

	out.OK = len(out.Errors) == 0
	return out, nil
}

// Handoff prepares and validates the envelope, then persists it under the
// transition's key. Nothing is written when validation fails.
func (o *Orchestrator) Handoff(ctx context.Context, source, target pipeline.Stage, sc pipeline.StageContext, opts Options) (*pipeline.HandoffEnvelope, error) {
	env, err := o.Prepare(source, target, sc, opts)
	if err != nil {
		return nil, err
	}
	out, err := o.Validate(env)
	if err != nil {
		return nil, err
	}
	if err := out.Err(schema.KeyEnvelope); err != nil {
		o.logger.Warn("handoff rejected",
			zap.String("campaign", env.CampaignID),
			zap.Stringer("source", source),
			zap.Stringer("target", target),
			zap.Int("violations", len(out.Errors)))
		return nil, err
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	key := gateway.HandoffKey(env.CampaignID, source, target)
	if err := o.gw.Put(ctx, key, data); err != nil {
		return nil, &pipeline.PersistenceError{Op: "put", Key: key, Err: err}
	}
	o.logger.Info("handoff persisted",
		zap.String("campaign", env.CampaignID),
		zap.String("handoff_id", env.HandoffID),
		zap.String("key", key),
		zap.String("trace_id", env.TraceID))
	return env, nil
}

// Load reads a persisted envelope back. A missing envelope is reported as
// gateway.ErrNotFound.
func (o *Orchestrator) Load(ctx context.Context, campaign string, source, target pipeline.Stage) (*pipeline.HandoffEnvelope, error) {
	key := gateway.HandoffKey(campaign, source, target)
	data, err := o.gw.Get(ctx, key)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "get", Key: key, Err: err}
	}
	var env pipeline.HandoffEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope %s: %w", key, err)
	}
	return &env, nil
}

// DecodeContext returns the typed target stage context carried by env.
func DecodeContext(env *pipeline.HandoffEnvelope) (pipeline.StageContext, error) {
	return pipeline.DecodeContext(env.TargetStage, env.Context)
}
