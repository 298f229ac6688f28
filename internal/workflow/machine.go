package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// ErrAlreadyStarted is returned by Start when a state is already persisted.
var ErrAlreadyStarted = errors.New("workflow already started")

// Machine persists workflow states through a gateway. When the gateway is
// gateway.Versioned, commits are compare-and-swap; otherwise the last
// writer wins.
type Machine struct {
	gw     gateway.Gateway
	logger *zap.Logger
	now    func() time.Time
}

// NewMachine creates a Machine. A nil logger discards output.
func NewMachine(gw gateway.Gateway, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{gw: gw, logger: logger, now: time.Now}
}

// WithClock returns a copy of m that reads the time from now.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	cp := *m
	cp.now = now
	return &cp
}

// Now returns the machine's current time.
func (m *Machine) Now() time.Time {
	return m.now()
}

// Start creates and persists the initial state of campaign.
func (m *Machine) Start(ctx context.Context, campaign string, dc *pipeline.DataCollectionContext) (*pipeline.WorkflowState, error) {
	s, err := Create(campaign, dc, m.now())
	if err != nil {
		return nil, err
	}
	key := gateway.StateKey(campaign)
	exists, err := m.gw.Exists(ctx, key)
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "exists", Key: key, Err: err}
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, campaign)
	}
	if err := m.putState(ctx, s, 0); err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyStarted, campaign)
		}
		return nil, err
	}
	if err := m.putContext(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("workflow started", zap.String("campaign", campaign))
	return s, nil
}

// Recover loads the persisted state of campaign. It returns nil and no
// error when nothing was persisted; the caller decides whether to Start.
func (m *Machine) Recover(ctx context.Context, campaign string) (*pipeline.WorkflowState, error) {
	key := gateway.StateKey(campaign)
	data, err := m.gw.Get(ctx, key)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "get", Key: key, Err: err}
	}
	return decodeState(key, data)
}

func decodeState(key string, data []byte) (*pipeline.WorkflowState, error) {
	var s pipeline.WorkflowState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &pipeline.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	return &s, nil
}

// Persist writes s unconditionally. Concurrent writers race; use Commit for
// guarded writes.
func (m *Machine) Persist(ctx context.Context, s *pipeline.WorkflowState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}
	key := gateway.StateKey(s.CampaignID)
	if err := m.gw.Put(ctx, key, data); err != nil {
		return &pipeline.PersistenceError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// Commit persists next and then the context of its current stage. prev is
// the state next was advanced from; on a versioned gateway the write fails
// with gateway.ErrConflict when the stored state is no longer prev, and
// nothing is written. The state is authoritative: a failed context write
// after it is reported but leaves the committed state in place.
func (m *Machine) Commit(ctx context.Context, prev, next *pipeline.WorkflowState) error {
	if next.CampaignID != prev.CampaignID {
		return fmt.Errorf("commit: state for %q cannot replace %q", next.CampaignID, prev.CampaignID)
	}
	if next.Current() == nil {
		return fmt.Errorf("commit: no context for current stage %s", next.CurrentStage)
	}

	v, ok := m.gw.(gateway.Versioned)
	if !ok {
		if err := m.Persist(ctx, next); err != nil {
			return err
		}
		return m.afterCommit(ctx, next)
	}

	key := gateway.StateKey(prev.CampaignID)
	data, stored, err := v.GetVersioned(ctx, key)
	if err != nil {
		return &pipeline.PersistenceError{Op: "get", Key: key, Err: err}
	}
	cur, err := decodeState(key, data)
	if err != nil {
		return err
	}
	if cur.Version != prev.Version {
		return &pipeline.PersistenceError{Op: "commit", Key: key,
			Err: fmt.Errorf("%w: stored state is version %d, advanced from %d", gateway.ErrConflict, cur.Version, prev.Version)}
	}
	if err := m.putState(ctx, next, stored); err != nil {
		return err
	}
	return m.afterCommit(ctx, next)
}

func (m *Machine) afterCommit(ctx context.Context, s *pipeline.WorkflowState) error {
	m.logger.Info("workflow advanced",
		zap.String("campaign", s.CampaignID),
		zap.Stringer("stage", s.CurrentStage),
		zap.Int64("version", s.Version))
	return m.putContext(ctx, s)
}

// putState writes s, guarded by the gateway version when supported.
// expected 0 means the state must not exist yet.
func (m *Machine) putState(ctx context.Context, s *pipeline.WorkflowState, expected int64) error {
	v, ok := m.gw.(gateway.Versioned)
	if !ok {
		return m.Persist(ctx, s)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode workflow state: %w", err)
	}
	key := gateway.StateKey(s.CampaignID)
	if _, err := v.PutIfVersion(ctx, key, data, expected); err != nil {
		return &pipeline.PersistenceError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// putContext stores the context of s's current stage under its own key.
func (m *Machine) putContext(ctx context.Context, s *pipeline.WorkflowState) error {
	sc := s.Current()
	if sc == nil {
		return fmt.Errorf("commit: no context for current stage %s", s.CurrentStage)
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode %s context: %w", s.CurrentStage, err)
	}
	key := gateway.ContextKey(s.CampaignID, s.CurrentStage)
	if err := m.gw.Put(ctx, key, data); err != nil {
		return &pipeline.PersistenceError{Op: "put", Key: key, Err: err}
	}
	return nil
}

// LoadContext reads the persisted context of stage.
func (m *Machine) LoadContext(ctx context.Context, campaign string, stage pipeline.Stage) (pipeline.StageContext, error) {
	key := gateway.ContextKey(campaign, stage)
	data, err := m.gw.Get(ctx, key)
	if errors.Is(err, gateway.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &pipeline.PersistenceError{Op: "get", Key: key, Err: err}
	}
	return pipeline.DecodeContext(stage, data)
}
