package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/campaignflow/internal/checks"
	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/continuity"
	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/handoff"
	"github.com/lucasnoah/campaignflow/internal/logging"
	"github.com/lucasnoah/campaignflow/internal/metrics"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/provenance"
	"github.com/lucasnoah/campaignflow/internal/schema"
	"github.com/lucasnoah/campaignflow/internal/workflow"
)

// ErrNotStarted is returned when a campaign has no workflow state.
var ErrNotStarted = errors.New("campaign not started")

// EventLog records pipeline events. Both SQL stores implement it.
type EventLog interface {
	LogPipelineEvent(ctx context.Context, campaign, event, stage, detail string) error
}

// Options holds the optional collaborators of an Orchestrator.
type Options struct {
	Events  EventLog
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	// Sink additionally receives every provenance event of builder and
	// checker runs.
	Sink provenance.Sink
	// Clock and NewID replace time.Now and uuid generation in the state
	// machine and the handoff orchestrator.
	Clock func() time.Time
	NewID func() string
	// Parallelism bounds AuditAll. Zero means 4.
	Parallelism int
}

// Orchestrator composes the pipeline components into the exposed surface:
// start, submit, audit and validate.
type Orchestrator struct {
	gw          gateway.Gateway
	builder     *appctx.Builder
	checker     *checks.Checker
	auditor     *continuity.Auditor
	handoffs    *handoff.Orchestrator
	machine     *workflow.Machine
	locks       *workflow.Locks
	events      EventLog
	metrics     *metrics.Metrics
	logger      *zap.Logger
	sink        provenance.Sink
	parallelism int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(
	gw gateway.Gateway,
	registry *schema.Registry,
	builder *appctx.Builder,
	checker *checks.Checker,
	auditor *continuity.Auditor,
	opts Options,
) *Orchestrator {
	logger := logging.OrNop(opts.Logger)
	machine := workflow.NewMachine(gw, logger)
	handoffs := handoff.New(gw, registry, logger)
	if opts.Clock != nil {
		machine = machine.WithClock(opts.Clock)
		handoffs = handoffs.WithClock(opts.Clock)
	}
	if opts.NewID != nil {
		handoffs = handoffs.WithIDs(opts.NewID)
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}
	return &Orchestrator{
		gw:          gw,
		builder:     builder,
		checker:     checker,
		auditor:     auditor,
		handoffs:    handoffs,
		machine:     machine,
		locks:       &workflow.Locks{},
		events:      opts.Events,
		metrics:     opts.Metrics,
		logger:      logger,
		sink:        opts.Sink,
		parallelism: parallelism,
	}
}

func (o *Orchestrator) logEvent(ctx context.Context, campaign, event string, stage pipeline.Stage, detail string) {
	if o.events == nil {
		return
	}
	if err := o.events.LogPipelineEvent(ctx, campaign, event, string(stage), detail); err != nil {
		o.logger.Warn("log pipeline event", zap.String("campaign", campaign), zap.String("event", event), zap.Error(err))
	}
}

func (o *Orchestrator) recover(ctx context.Context, campaign string) (*pipeline.WorkflowState, error) {
	s, err := o.machine.Recover(ctx, campaign)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%s: %w", campaign, ErrNotStarted)
	}
	return s, nil
}

// Start builds the data collection context from the campaign's upstream
// artifacts and creates its workflow state. A campaign that already has
// state is recovered instead.
func (o *Orchestrator) Start(ctx context.Context, campaign string) (*pipeline.WorkflowState, error) {
	if err := gateway.ValidateCampaignID(campaign); err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(campaign)
	defer unlock()

	existing, err := o.machine.Recover(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("recover campaign: %w", err)
	}
	if existing != nil {
		o.logger.Info("campaign recovered",
			zap.String("campaign", campaign),
			zap.String("stage", string(existing.CurrentStage)),
			zap.Int64("version", existing.Version))
		return existing, nil
	}

	artifacts, err := appctx.LoadArtifacts(ctx, o.gw, campaign)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	dc := appctx.BuildDataCollection(campaign, artifacts, o.machine.Now())
	s, err := o.machine.Start(ctx, campaign, dc)
	if err != nil {
		return nil, fmt.Errorf("start campaign: %w", err)
	}
	o.logEvent(ctx, campaign, "started", pipeline.StageDataCollection,
		fmt.Sprintf("status=%s sources=%d", dc.CollectionStatus, len(dc.SourcesPresent)))
	return s, nil
}

// SubmitResult describes what happened during a submit.
type SubmitResult struct {
	Campaign string                    `json:"campaign_id"`
	Stage    pipeline.Stage            `json:"stage"`
	Action   string                    `json:"action"` // "advanced" or "rejected"
	Check    checks.Result             `json:"check"`
	Gate     *checks.GateResult        `json:"gate,omitempty"`
	Envelope *pipeline.HandoffEnvelope `json:"envelope,omitempty"`
	State    *pipeline.WorkflowState   `json:"state,omitempty"`
	Audit    *continuity.Report        `json:"audit,omitempty"`
	Defaults []string                  `json:"defaulted_fields,omitempty"`
}

// Submit turns the raw output of stage into its context and, when the
// context passes the gate, hands it off and advances the campaign. The
// campaign lock is held for the whole submit. A rejected submit returns the
// result alongside the gate error and leaves the stored state untouched.
func (o *Orchestrator) Submit(ctx context.Context, campaign string, stage pipeline.Stage, raw appctx.RawOutput, traceID string) (*SubmitResult, error) {
	started := time.Now()
	unlock := o.locks.Lock(campaign)
	defer unlock()

	s, err := o.recover(ctx, campaign)
	if err != nil {
		return nil, err
	}
	if err := workflow.CheckSuccessor(s.CurrentStage, stage); err != nil {
		return nil, err
	}

	rec := &provenance.Recorder{}
	sink := provenance.Multi{rec, provenance.LogSink{Logger: o.logger}, o.sink}

	prior := s.Current()
	opts := appctx.BuildOpts{
		Campaign: campaign,
		Raw:      raw,
		Prior:    prior,
		Sink:     sink,
	}
	if pipeline.DataCollectionOf(prior) == nil {
		if opts.Artifacts, err = appctx.LoadArtifacts(ctx, o.gw, campaign); err != nil {
			return nil, fmt.Errorf("load artifacts: %w", err)
		}
	}
	if stage == pipeline.StageQuality {
		opts.Summaries = o.summaries(ctx, s)
	}
	sc, err := o.builder.Build(stage, opts)
	if err != nil {
		o.logEvent(ctx, campaign, "build_failed", stage, err.Error())
		return nil, err
	}

	available, err := checks.ResolveAvailable(ctx, o.gw, o.checker.RequiredKeys(stage, campaign))
	if err != nil {
		return nil, err
	}
	res := o.checker.Check(sc, stage, checks.CheckOpts{Available: available, Sink: sink})
	gate, gateErr := o.checker.Gate(campaign, res)
	o.metrics.RecordValidation(string(stage), gate.Passed, res.QualityScore)

	result := &SubmitResult{
		Campaign: campaign,
		Stage:    stage,
		Action:   "rejected",
		Check:    res,
		Gate:     gate,
		Defaults: append(rec.BySource(provenance.SourceDefault), rec.BySource(provenance.SourceGenerated)...),
	}
	if gateErr != nil {
		o.logger.Warn("stage rejected",
			zap.String("campaign", campaign),
			zap.String("stage", string(stage)),
			zap.Int("quality_score", res.QualityScore),
			zap.Int("blocking", len(gate.Blocking)))
		o.logEvent(ctx, campaign, "rejected", stage, fmt.Sprintf("score=%d blocking=%d", res.QualityScore, len(gate.Blocking)))
		return result, gateErr
	}

	env, err := o.handoffs.Handoff(ctx, s.CurrentStage, stage, sc, handoff.Options{
		TraceID:       traceID,
		ExecutionTime: time.Since(started),
	})
	if err != nil {
		outcome := "failed"
		if errors.Is(err, pipeline.ErrStructural) {
			outcome = "rejected"
		}
		o.metrics.RecordHandoff(string(s.CurrentStage), string(stage), outcome)
		return result, err
	}
	o.metrics.RecordHandoff(string(s.CurrentStage), string(stage), "persisted")
	result.Envelope = env

	next, err := workflow.Advance(s, stage, sc, o.machine.Now())
	if err != nil {
		return result, err
	}
	if err := o.machine.Commit(ctx, s, next); err != nil {
		return result, err
	}
	result.Action = "advanced"
	result.State = next
	o.logEvent(ctx, campaign, "stage_advanced", stage, fmt.Sprintf("from=%s score=%d", s.CurrentStage, res.QualityScore))

	report := o.audit(next)
	result.Audit = &report
	o.metrics.ObserveSubmit(string(stage), time.Since(started))
	return result, nil
}

// summaries re-checks every stored context after data collection so the
// quality stage can record the verdicts of the stages it reviews.
func (o *Orchestrator) summaries(ctx context.Context, s *pipeline.WorkflowState) map[pipeline.Stage]pipeline.ValidationSummary {
	out := make(map[pipeline.Stage]pipeline.ValidationSummary)
	for _, st := range s.CompletedStages {
		sc := s.Contexts.Get(st)
		if st == pipeline.StageDataCollection || sc == nil {
			continue
		}
		available, err := checks.ResolveAvailable(ctx, o.gw, o.checker.RequiredKeys(st, s.CampaignID))
		if err != nil {
			o.logger.Warn("resolve dependencies", zap.String("stage", string(st)), zap.Error(err))
		}
		out[st] = o.checker.Check(sc, st, checks.CheckOpts{Available: available}).Summary()
	}
	return out
}

func (o *Orchestrator) audit(s *pipeline.WorkflowState) continuity.Report {
	r := o.auditor.Audit(s)
	var fired []string
	for _, t := range r.Fired() {
		fired = append(fired, t.Metric)
		o.logger.Warn("rollback recommended",
			zap.String("campaign", r.CampaignID),
			zap.String("metric", t.Metric),
			zap.Int("value", t.Value),
			zap.Int("threshold", t.Threshold),
			zap.String("action", t.Action))
	}
	o.metrics.RecordAudit(r.CampaignID, r.Overall, r.TransitionQuality, r.PreservationScore, fired)
	return r
}

// Audit scores the continuity of a campaign. It never modifies stored state.
func (o *Orchestrator) Audit(ctx context.Context, campaign string) (*continuity.Report, error) {
	s, err := o.recover(ctx, campaign)
	if err != nil {
		return nil, err
	}
	r := o.audit(s)
	return &r, nil
}

// AuditAll audits campaigns in parallel. With no ids it audits every
// campaign the gateway can list. Reports keep the order of ids.
func (o *Orchestrator) AuditAll(ctx context.Context, ids []string) ([]continuity.Report, error) {
	if len(ids) == 0 {
		l, ok := o.gw.(gateway.Lister)
		if !ok {
			return nil, fmt.Errorf("gateway %T cannot list campaigns", o.gw)
		}
		var err error
		if ids, err = gateway.CampaignIDs(ctx, l); err != nil {
			return nil, fmt.Errorf("list campaigns: %w", err)
		}
	}

	reports := make([]continuity.Report, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, id := range ids {
		g.Go(func() error {
			r, err := o.Audit(gctx, id)
			if err != nil {
				return fmt.Errorf("audit %s: %w", id, err)
			}
			reports[i] = *r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Validate checks the accumulation invariants of a stored campaign.
func (o *Orchestrator) Validate(ctx context.Context, campaign string) (workflow.Report, error) {
	s, err := o.recover(ctx, campaign)
	if err != nil {
		return workflow.Report{}, err
	}
	return workflow.ValidateAccumulation(s), nil
}

// StatusInfo summarizes one campaign.
type StatusInfo struct {
	Campaign        string                `json:"campaign_id"`
	Stage           pipeline.Stage        `json:"stage"`
	NextStage       pipeline.Stage        `json:"next_stage,omitempty"`
	CompletedStages []pipeline.Stage      `json:"completed_stages"`
	Version         int64                 `json:"version"`
	StartedAt       time.Time             `json:"started_at"`
	StageStartedAt  time.Time             `json:"stage_started_at"`
	ProcessingMS    int64                 `json:"total_processing_ms"`
	Transitions     []pipeline.Transition `json:"transitions,omitempty"`
}

func statusOf(s *pipeline.WorkflowState) StatusInfo {
	info := StatusInfo{
		Campaign:        s.CampaignID,
		Stage:           s.CurrentStage,
		CompletedStages: s.CompletedStages,
		Version:         s.Version,
		StartedAt:       s.Metadata.StartedAt,
		StageStartedAt:  s.Metadata.StageStartedAt,
		ProcessingMS:    s.Metadata.TotalProcessingMS,
		Transitions:     s.Metadata.Transitions,
	}
	if next, ok := s.CurrentStage.Next(); ok {
		info.NextStage = next
	}
	return info
}

// Status returns the status of a campaign.
func (o *Orchestrator) Status(ctx context.Context, campaign string) (*StatusInfo, error) {
	s, err := o.recover(ctx, campaign)
	if err != nil {
		return nil, err
	}
	info := statusOf(s)
	return &info, nil
}

// StatusAll returns the status of every campaign the gateway can list.
func (o *Orchestrator) StatusAll(ctx context.Context) ([]StatusInfo, error) {
	l, ok := o.gw.(gateway.Lister)
	if !ok {
		return nil, fmt.Errorf("gateway %T cannot list campaigns", o.gw)
	}
	ids, err := gateway.CampaignIDs(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}

	var result []StatusInfo
	for _, id := range ids {
		s, err := o.machine.Recover(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("recover %s: %w", id, err)
		}
		if s == nil {
			continue
		}
		result = append(result, statusOf(s))
	}
	return result, nil
}

// Handoff returns the persisted envelope of a transition, for replay.
func (o *Orchestrator) Handoff(ctx context.Context, campaign string, source, target pipeline.Stage) (*pipeline.HandoffEnvelope, error) {
	return o.handoffs.Load(ctx, campaign, source, target)
}
