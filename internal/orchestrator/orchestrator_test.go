package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/campaignflow/internal/checks"
	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/continuity"
	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/metrics"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/provenance"
	"github.com/lucasnoah/campaignflow/internal/schema"
)

var fixedNow = time.Date(2026, 10, 17, 12, 30, 0, 0, time.UTC)

// --- Fakes ---

type recordingEvents struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingEvents) LogPipelineEvent(_ context.Context, campaign, event, stage, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%s:%s", campaign, event, stage))
	return nil
}

func (r *recordingEvents) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type harness struct {
	orch    *Orchestrator
	gw      gateway.Gateway
	events  *recordingEvents
	metrics *metrics.Metrics
	logs    *observer.ObservedLogs
	sink    *provenance.Recorder
}

func newHarness(t *testing.T, gw gateway.Gateway) *harness {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	registry := schema.MustNew()
	var n int
	var mu sync.Mutex
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
	}

	core, logs := observer.New(zap.DebugLevel)
	h := &harness{
		gw:      gw,
		events:  &recordingEvents{},
		metrics: metrics.New(prometheus.NewRegistry()),
		logs:    logs,
		sink:    &provenance.Recorder{},
	}
	h.orch = NewOrchestrator(gw, registry,
		appctx.NewBuilder(appctx.DefaultOptions()).WithClock(clock),
		checks.New(registry, checks.DefaultOptions()).WithClock(clock),
		continuity.New(continuity.DefaultThresholds()).WithClock(clock),
		Options{
			Events:  h.events,
			Metrics: h.metrics,
			Logger:  zap.New(core),
			Sink:    h.sink,
			Clock:   clock,
			NewID:   newID,
		},
	)
	return h
}

// --- Fixtures ---

func seedArtifacts(t *testing.T, gw gateway.Gateway, campaign string, names ...string) {
	t.Helper()
	docs := map[string]string{
		appctx.ArtifactDestinationAnalysis: "destination: Lisbon\nhighlights: [alfama, belem]\n",
		appctx.ArtifactMarketIntelligence:  `{"demand": "high", "competitors": 4}`,
		appctx.ArtifactEmotionalProfile:    "mood: nostalgic\n",
		appctx.ArtifactTrendAnalysis:       "trend: rising\n",
		appctx.ArtifactCompetitorAnalysis:  "leader: tap\n",
		appctx.ArtifactPricingIntelligence: "median_price: 450\n",
	}
	for _, name := range names {
		require.NoError(t, gw.Put(t.Context(), gateway.ArtifactKey(campaign, name), []byte(docs[name])))
	}
}

var coreArtifacts = []string{
	appctx.ArtifactDestinationAnalysis,
	appctx.ArtifactMarketIntelligence,
	appctx.ArtifactEmotionalProfile,
	appctx.ArtifactTrendAnalysis,
}

func contentRaw() appctx.RawOutput {
	return appctx.NewRaw(pipeline.StageContent, map[string]any{
		"campaign": map[string]any{"name": "Lisbon in autumn", "destination": "Lisbon", "locale": "en-GB"},
		"market": map[string]any{
			"season":       "autumn harvest",
			"demand_level": "high",
			"key_insights": []any{"food tourism is up", "short breaks dominate"},
		},
		"dates":   map[string]any{"optimal_dates": []any{"2027-03-01", "2027-03-15"}},
		"pricing": map[string]any{"best_price": 420.0, "min_price": 380.0, "max_price": 610.0, "currency": "EUR"},
		"copy": map[string]any{
			"subject":   "Lisbon lights up this autumn",
			"preheader": "Trams, tiles and custard tarts await",
			"headline":  "Golden hour on the Tagus",
			"body":      "Wander Alfama at dusk, catch a fado show and stay three nights with flights included.",
			"cta":       "See the offer",
		},
	})
}

func designRaw() appctx.RawOutput {
	return appctx.NewRaw(pipeline.StageDesign, map[string]any{
		"visual_design": map[string]any{
			"color_palette": map[string]any{"primary": "#0B3D91", "secondary": "#F2A900", "accent": "#E4572E"},
			"heading_font":  "Playfair Display",
			"layout":        "Hero banner",
		},
		"asset_manifest": map[string]any{
			"images": []any{
				map[string]any{"id": "hero", "url": "https://cdn.example.com/hero.jpg", "alt": "Tram 28"},
				map[string]any{"id": "tiles", "url": "https://cdn.example.com/tiles.jpg", "alt": "Azulejos"},
			},
		},
		"asset_usage": map[string]any{"referenced_asset_ids": []any{"hero", "tiles"}},
		"content_integration": map[string]any{
			"pricing_displayed": true,
			"displayed_price":   420,
			"dates_displayed":   []any{"1 March", "15 March"},
		},
		"brand_elements": map[string]any{"logo_url": "https://cdn.example.com/logo.svg"},
	})
}

func qualityRaw(status string) appctx.RawOutput {
	return appctx.NewRaw(pipeline.StageQuality, map[string]any{
		"approval":        map[string]any{"status": status, "reviewer": "ops"},
		"accessibility":   map[string]any{"score": 92, "wcag_level": "aa"},
		"rendering_tests": []any{map[string]any{"client": "gmail", "passed": true}},
	})
}

func deliveryRaw() appctx.RawOutput {
	return appctx.NewRaw(pipeline.StageDelivery, map[string]any{
		"delivery_plan": map[string]any{"channel": "email", "send_at": "2026-11-01T09:00:00Z"},
		"status":        "scheduled",
	})
}

func rawFor(stage pipeline.Stage) appctx.RawOutput {
	switch stage {
	case pipeline.StageContent:
		return contentRaw()
	case pipeline.StageDesign:
		return designRaw()
	case pipeline.StageQuality:
		return qualityRaw("approved")
	case pipeline.StageDelivery:
		return deliveryRaw()
	}
	return nil
}

// runTo starts campaign and submits every stage up to and including last.
func runTo(t *testing.T, h *harness, campaign string, last pipeline.Stage) *SubmitResult {
	t.Helper()
	_, err := h.orch.Start(t.Context(), campaign)
	require.NoError(t, err)

	var res *SubmitResult
	for _, stage := range pipeline.ExpectedProgression[1:] {
		res, err = h.orch.Submit(t.Context(), campaign, stage, rawFor(stage), "trace-"+string(stage))
		require.NoError(t, err, "submit %s", stage)
		require.Equal(t, "advanced", res.Action)
		if stage == last {
			break
		}
	}
	return res
}

// --- Tests ---

func TestStart_BuildsDataCollectionFromArtifacts(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)

	s, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)

	assert.Equal(t, pipeline.StageDataCollection, s.CurrentStage)
	assert.Equal(t, int64(1), s.Version)
	dc := s.Contexts.DataCollection
	require.NotNil(t, dc)
	assert.Equal(t, pipeline.CollectionComplete, dc.CollectionStatus)
	assert.Equal(t, "Lisbon", dc.Destination)
	assert.Len(t, dc.SourcesPresent, 4)

	ok, err := gw.Exists(t.Context(), gateway.ContextKey("lisbon-autumn", pipeline.StageDataCollection))
	require.NoError(t, err)
	assert.True(t, ok, "data collection context should be persisted")
	assert.Equal(t, []string{"lisbon-autumn:started:data_collection"}, h.events.list())
}

func TestStart_NoArtifactsFailsCollection(t *testing.T) {
	h := newHarness(t, gateway.NewMemoryGateway())

	s, err := h.orch.Start(t.Context(), "empty-campaign")
	require.NoError(t, err)

	dc := s.Contexts.DataCollection
	assert.Equal(t, pipeline.CollectionFailed, dc.CollectionStatus)
	assert.Equal(t, 0, dc.DataQualityScore)
}

func TestStart_RecoversExisting(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	runTo(t, h, "lisbon-autumn", pipeline.StageContent)

	s, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageContent, s.CurrentStage)
	assert.Equal(t, int64(2), s.Version)
	assert.Equal(t, 1, h.logs.FilterMessage("campaign recovered").Len())
}

func TestStart_ArtifactsSurviveRecovery(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	require.NoError(t, gw.Put(t.Context(), gateway.ArtifactKey("lisbon-autumn", appctx.ArtifactDestinationAnalysis),
		[]byte("destination: Lisbon\nhotels: 120\nrating: 4.5\ndistricts:\n  alfama: 3\n")))

	started, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	assert.Equal(t, float64(120), started.Contexts.DataCollection.DestinationAnalysis["hotels"])

	recovered, err := newHarness(t, gw).orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	if diff := cmp.Diff(started, recovered); diff != "" {
		t.Errorf("recovered state mismatch (-started +recovered):\n%s", diff)
	}
}

func TestStart_InvalidCampaignID(t *testing.T) {
	h := newHarness(t, gateway.NewMemoryGateway())
	_, err := h.orch.Start(t.Context(), "../escape")
	assert.Error(t, err)
}

func TestSubmit_FullRun(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)

	res := runTo(t, h, "lisbon-autumn", pipeline.StageDelivery)

	s := res.State
	require.NotNil(t, s)
	assert.Equal(t, pipeline.StageDelivery, s.CurrentStage)
	assert.Equal(t, pipeline.ExpectedProgression, s.CompletedStages)
	assert.Equal(t, int64(5), s.Version)
	assert.Len(t, s.Metadata.Transitions, 4)

	// Every transition left a replayable envelope.
	for i := 1; i < len(pipeline.ExpectedProgression); i++ {
		src, dst := pipeline.ExpectedProgression[i-1], pipeline.ExpectedProgression[i]
		env, err := h.orch.Handoff(t.Context(), "lisbon-autumn", src, dst)
		require.NoError(t, err, "%s->%s", src, dst)
		assert.Equal(t, "trace-"+string(dst), env.TraceID)
	}

	// The quality stage recorded the verdicts of content and design.
	q := s.Contexts.Quality
	require.NotNil(t, q)
	assert.Contains(t, q.ValidationSummaries, pipeline.StageContent)
	assert.Contains(t, q.ValidationSummaries, pipeline.StageDesign)
	assert.Equal(t, 100, q.OverallScore)

	// Nothing was lost between stages.
	require.NotNil(t, res.Audit)
	assert.Equal(t, 100, res.Audit.Overall, "audit: %+v", res.Audit)
	assert.True(t, res.Audit.Compliant)
	assert.Empty(t, res.Audit.Fired())

	report, err := h.orch.Validate(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	assert.True(t, report.IsValid, "issues: %v", report.Issues)

	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.Validations.WithLabelValues("content", "passed"))+
		testutil.ToFloat64(h.metrics.Validations.WithLabelValues("design", "passed"))+
		testutil.ToFloat64(h.metrics.Validations.WithLabelValues("quality", "passed"))+
		testutil.ToFloat64(h.metrics.Validations.WithLabelValues("delivery", "passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Handoffs.WithLabelValues("quality", "delivery", "persisted")))
	assert.Equal(t, 100.0, testutil.ToFloat64(h.metrics.Continuity.WithLabelValues("lisbon-autumn", "overall")))

	assert.Equal(t, []string{
		"lisbon-autumn:started:data_collection",
		"lisbon-autumn:stage_advanced:content",
		"lisbon-autumn:stage_advanced:design",
		"lisbon-autumn:stage_advanced:quality",
		"lisbon-autumn:stage_advanced:delivery",
	}, h.events.list())
}

func TestSubmit_SkippingStagesIsAnOrderingError(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	_, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	before, err := gw.Get(t.Context(), gateway.StateKey("lisbon-autumn"))
	require.NoError(t, err)

	_, err = h.orch.Submit(t.Context(), "lisbon-autumn", pipeline.StageQuality, qualityRaw("approved"), "")

	var oe *pipeline.OrderingError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, pipeline.StageDataCollection, oe.Current)
	assert.Equal(t, pipeline.StageQuality, oe.Attempted)
	assert.Equal(t, pipeline.StageContent, oe.Expected)

	after, err := gw.Get(t.Context(), gateway.StateKey("lisbon-autumn"))
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestSubmit_RejectedLeavesStateUntouched(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	_, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)

	raw := contentRaw().(appctx.ContentOutput)
	raw.Sections["pricing"] = map[string]any{"best_price": 0, "min_price": 0, "max_price": 0, "currency": "EUR"}
	res, err := h.orch.Submit(t.Context(), "lisbon-autumn", pipeline.StageContent, raw, "")

	require.ErrorIs(t, err, pipeline.ErrConsistency)
	require.NotNil(t, res)
	assert.Equal(t, "rejected", res.Action)
	assert.False(t, res.Check.IsComplete)
	assert.False(t, res.Gate.Passed)
	assert.Contains(t, res.Defaults, "technical.max_subject_length")

	s, err := h.orch.Status(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	assert.Equal(t, pipeline.StageDataCollection, s.Stage)
	assert.Equal(t, int64(1), s.Version)

	ok, err := gw.Exists(t.Context(), gateway.HandoffKey("lisbon-autumn", pipeline.StageDataCollection, pipeline.StageContent))
	require.NoError(t, err)
	assert.False(t, ok, "rejected context must not be handed off")

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Validations.WithLabelValues("content", "blocked")))
	assert.Equal(t, 1, h.logs.FilterMessage("stage rejected").Len())
	assert.Contains(t, h.events.list(), "lisbon-autumn:rejected:content")
}

func TestSubmit_BuilderInputError(t *testing.T) {
	h := newHarness(t, gateway.NewMemoryGateway())
	_, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)

	raw := appctx.NewRaw(pipeline.StageContent, map[string]any{"campaign": map[string]any{"name": "no destination"}})
	_, err = h.orch.Submit(t.Context(), "lisbon-autumn", pipeline.StageContent, raw, "")

	var be *pipeline.BuilderInputError
	require.ErrorAs(t, err, &be)
	assert.Len(t, be.Missing, 4)
}

func TestSubmit_NotStarted(t *testing.T) {
	h := newHarness(t, gateway.NewMemoryGateway())
	_, err := h.orch.Submit(t.Context(), "ghost", pipeline.StageContent, contentRaw(), "")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSubmit_ProvenanceReachesInjectedSink(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	runTo(t, h, "lisbon-autumn", pipeline.StageContent)

	for _, e := range h.sink.Events() {
		assert.Equal(t, "lisbon-autumn", e.Campaign)
	}
	assert.Contains(t, h.sink.BySource(provenance.SourceDefault), "technical.max_subject_length")
}

func TestSubmit_ApprovalRejectedBlocksQuality(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	runTo(t, h, "lisbon-autumn", pipeline.StageDesign)

	res, err := h.orch.Submit(t.Context(), "lisbon-autumn", pipeline.StageQuality, qualityRaw("rejected"), "")
	require.ErrorIs(t, err, pipeline.ErrConsistency)
	assert.Equal(t, "rejected", res.Action)
}

func TestAudit_AssetUtilizationTrigger(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	runTo(t, h, "lisbon-autumn", pipeline.StageContent)

	images := make([]any, 7)
	for i := range images {
		images[i] = map[string]any{"id": fmt.Sprintf("img-%d", i+1), "url": "https://cdn.example.com/x.jpg", "alt": "x"}
	}
	raw := appctx.NewRaw(pipeline.StageDesign, map[string]any{
		"visual_design":       map[string]any{"color_palette": map[string]any{"primary": "#000"}, "layout": "grid"},
		"asset_manifest":      map[string]any{"images": images},
		"asset_usage":         map[string]any{"referenced_asset_ids": []any{"img-1"}},
		"content_integration": map[string]any{"pricing_displayed": true, "dates_displayed": []any{"1 March"}},
		"brand_elements":      map[string]any{"logo_url": "https://cdn.example.com/logo.svg"},
	})
	_, err := h.orch.Submit(t.Context(), "lisbon-autumn", pipeline.StageDesign, raw, "")
	require.NoError(t, err)

	r, err := h.orch.Audit(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	d, ok := r.Dimension(continuity.DimensionAssetUtilization)
	require.True(t, ok)
	assert.Equal(t, 14, d.Score)

	var fired []string
	for _, tr := range r.Fired() {
		fired = append(fired, tr.Metric)
	}
	assert.Contains(t, fired, continuity.MetricAssetUtilization)
	assert.GreaterOrEqual(t, h.logs.FilterMessage("rollback recommended").Len(), 1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(h.metrics.RollbackTriggers.WithLabelValues(continuity.MetricAssetUtilization)), 1.0)
}

func TestAudit_DoesNotWrite(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	runTo(t, h, "lisbon-autumn", pipeline.StageDesign)

	before, beforeVersion, err := gw.GetVersioned(t.Context(), gateway.StateKey("lisbon-autumn"))
	require.NoError(t, err)
	_, err = h.orch.Audit(t.Context(), "lisbon-autumn")
	require.NoError(t, err)
	after, afterVersion, err := gw.GetVersioned(t.Context(), gateway.StateKey("lisbon-autumn"))
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, beforeVersion, afterVersion)
}

func TestAuditAll(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	campaigns := []string{"lisbon-autumn", "porto-winter", "faro-summer"}
	for _, c := range campaigns {
		seedArtifacts(t, gw, c, coreArtifacts...)
		_, err := h.orch.Start(t.Context(), c)
		require.NoError(t, err)
	}

	reports, err := h.orch.AuditAll(t.Context(), campaigns)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, campaigns[i], r.CampaignID)
	}

	// Without ids every listed campaign is audited, sorted.
	reports, err = h.orch.AuditAll(t.Context(), nil)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "faro-summer", reports[0].CampaignID)
}

func TestAuditAll_PropagatesFailure(t *testing.T) {
	h := newHarness(t, gateway.NewMemoryGateway())
	_, err := h.orch.Start(t.Context(), "lisbon-autumn")
	require.NoError(t, err)

	_, err = h.orch.AuditAll(t.Context(), []string{"lisbon-autumn", "ghost"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotStarted))
}

func TestStatusAll(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	runTo(t, h, "lisbon-autumn", pipeline.StageContent)
	_, err := h.orch.Start(t.Context(), "porto-winter")
	require.NoError(t, err)

	all, err := h.orch.StatusAll(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "lisbon-autumn", all[0].Campaign)
	assert.Equal(t, pipeline.StageContent, all[0].Stage)
	assert.Equal(t, pipeline.StageDesign, all[0].NextStage)
	assert.Equal(t, pipeline.StageDataCollection, all[1].Stage)
}

func TestSubmitResult_JSON(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	h := newHarness(t, gw)
	seedArtifacts(t, gw, "lisbon-autumn", coreArtifacts...)
	res := runTo(t, h, "lisbon-autumn", pipeline.StageContent)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "advanced", decoded["action"])
	assert.Equal(t, "content", decoded["stage"])
	assert.Contains(t, decoded, "envelope")
	assert.Contains(t, decoded, "audit")
}
