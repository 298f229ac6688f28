package handoff

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/schema"
)

var fixedNow = time.Date(2026, 10, 17, 12, 30, 0, 0, time.UTC)

const fixedID = "0b7f3c5e-2d4a-4c1b-9e8f-6a5d4c3b2a19"

func newOrchestrator(gw gateway.Gateway, logger *zap.Logger) *Orchestrator {
	return New(gw, schema.MustNew(), logger).
		WithClock(func() time.Time { return fixedNow }).
		WithIDs(func() string { return fixedID })
}

func dataCollection() *pipeline.DataCollectionContext {
	return &pipeline.DataCollectionContext{
		CampaignID:          "rome-spring",
		Destination:         "Rome",
		CollectedAt:         fixedNow,
		SourcesPresent:      []string{"destination-analysis"},
		CollectionStatus:    pipeline.CollectionFailed,
		DataQualityScore:    17,
		DestinationAnalysis: map[string]any{"destination": "Rome"},
	}
}

func content() *pipeline.ContentContext {
	return &pipeline.ContentContext{
		CampaignID: "rome-spring",
		Metadata:   pipeline.CampaignMetadata{Destination: "Rome", CreatedAt: fixedNow},
		MarketAnalysis: pipeline.MarketAnalysis{
			Destination: "Rome", Season: pipeline.SeasonSpring, DemandLevel: pipeline.DemandHigh,
		},
		DateAnalysis: pipeline.DateAnalysis{
			Destination:  "Rome",
			OptimalDates: []pipeline.CandidateDate{{Date: fixedNow.AddDate(0, 5, 0)}},
		},
		Pricing:        pipeline.PricingAnalysis{BestPrice: 199, MinPrice: 149, MaxPrice: 349, Currency: "EUR"},
		Copy:           pipeline.GeneratedCopy{Subject: "Spring escapes to Rome", Body: "Wander the Eternal City."},
		Technical:      pipeline.TechnicalConstraints{MaxSubjectLength: 60, MaxWidthPx: 600},
		DataCollection: dataCollection(),
	}
}

type failingGateway struct{ gateway.Gateway }

func (failingGateway) Put(context.Context, string, []byte) error { return errors.New("disk full") }

func TestPrepare_RejectsNonSuccessor(t *testing.T) {
	o := newOrchestrator(gateway.NewMemoryGateway(), nil)

	_, err := o.Prepare(pipeline.StageDataCollection, pipeline.StageDesign, content(), Options{})

	var oe *pipeline.OrderingError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, pipeline.StageContent, oe.Expected)

	_, err = o.Prepare(pipeline.StageDelivery, pipeline.StageDataCollection, content(), Options{})
	assert.ErrorIs(t, err, pipeline.ErrOrdering)
}

func TestPrepare_RejectsContextOfOtherStage(t *testing.T) {
	o := newOrchestrator(gateway.NewMemoryGateway(), nil)

	_, err := o.Prepare(pipeline.StageContent, pipeline.StageDesign, dataCollection(), Options{})
	assert.ErrorIs(t, err, pipeline.ErrStructural)

	// The envelope carries the context built for the target, not the source's.
	_, err = o.Prepare(pipeline.StageDataCollection, pipeline.StageContent, content(), Options{})
	var se *pipeline.StructuralValidationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "context", se.Issues[0].Path)

	_, err = o.Prepare(pipeline.StageContent, pipeline.StageDesign, nil, Options{})
	assert.ErrorIs(t, err, pipeline.ErrStructural)
}

func TestPrepare_Envelope(t *testing.T) {
	o := New(gateway.NewMemoryGateway(), schema.MustNew(), nil)

	env, err := o.Prepare(pipeline.StageDataCollection, pipeline.StageContent, content(), Options{})
	require.NoError(t, err)

	assert.Equal(t, "rome-spring", env.CampaignID)
	assert.Equal(t, pipeline.DataVersion, env.DataVersion)
	assert.Nil(t, env.ExecutionTimeMS)
	assert.Empty(t, env.TraceID)

	out, err := o.Validate(env)
	require.NoError(t, err)
	assert.True(t, out.OK, "generated envelope should validate: %+v", out.Errors)
}

func TestValidate_ReportsEveryPath(t *testing.T) {
	o := newOrchestrator(gateway.NewMemoryGateway(), nil)
	env, err := o.Prepare(pipeline.StageDataCollection, pipeline.StageContent, content(), Options{})
	require.NoError(t, err)

	env.HandoffID = "not-a-uuid"
	env.TargetStage = pipeline.StageQuality
	env.CampaignID = "paris-autumn"

	out, err := o.Validate(env)
	require.NoError(t, err)
	require.False(t, out.OK)

	paths := make(map[string]bool)
	for _, is := range out.Errors {
		paths[is.Path] = true
	}
	for _, want := range []string{"handoff_id", "target_stage", "context.campaign_id"} {
		assert.True(t, paths[want], "missing issue for %s in %+v", want, out.Errors)
	}
	assert.ErrorIs(t, out.Err(schema.KeyEnvelope), pipeline.ErrStructural)
}

func TestHandoff_PersistsGoldenEnvelope(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	o := newOrchestrator(gw, nil)
	ctx := t.Context()

	env, err := o.Handoff(ctx, pipeline.StageDataCollection, pipeline.StageContent, content(),
		Options{TraceID: "trace-42", ExecutionTime: 1500 * time.Millisecond})
	require.NoError(t, err)

	data, err := gw.Get(ctx, "rome-spring/handoffs/data_collection-to-content")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "envelope_data_collection_to_content", data)

	loaded, err := o.Load(ctx, "rome-spring", pipeline.StageDataCollection, pipeline.StageContent)
	require.NoError(t, err)
	// The stored context is indented; compare it decoded below.
	if diff := cmp.Diff(env, loaded, cmpopts.IgnoreFields(pipeline.HandoffEnvelope{}, "Context")); diff != "" {
		t.Errorf("loaded envelope mismatch (-want +got):\n%s", diff)
	}

	sc, err := DecodeContext(loaded)
	require.NoError(t, err)
	if diff := cmp.Diff(pipeline.StageContext(content()), sc); diff != "" {
		t.Errorf("decoded context mismatch (-want +got):\n%s", diff)
	}
}

func TestHandoff_InvalidContextIsNotPersisted(t *testing.T) {
	gw := gateway.NewMemoryGateway()
	core, logs := observer.New(zapcore.InfoLevel)
	o := newOrchestrator(gw, zap.New(core))
	ctx := t.Context()

	c := content()
	c.MarketAnalysis.Season = "monsoon"
	c.Copy.Subject = ""

	_, err := o.Handoff(ctx, pipeline.StageDataCollection, pipeline.StageContent, c, Options{})

	var se *pipeline.StructuralValidationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, schema.KeyEnvelope, se.Schema)
	var paths []string
	for _, is := range se.Issues {
		paths = append(paths, is.Path)
	}
	assert.Contains(t, paths, "context.market_analysis.season")
	assert.Contains(t, paths, "context.generated_copy.subject")

	ok, err := gw.Exists(ctx, gateway.HandoffKey("rome-spring", pipeline.StageDataCollection, pipeline.StageContent))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("handoff rejected").Len())
}

func TestHandoff_PersistenceFailure(t *testing.T) {
	o := newOrchestrator(failingGateway{gateway.NewMemoryGateway()}, nil)

	_, err := o.Handoff(t.Context(), pipeline.StageDataCollection, pipeline.StageContent, content(), Options{})

	var pe *pipeline.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "rome-spring/handoffs/data_collection-to-content", pe.Key)
}

func TestLoad_NotFound(t *testing.T) {
	o := newOrchestrator(gateway.NewMemoryGateway(), nil)

	_, err := o.Load(t.Context(), "rome-spring", pipeline.StageContent, pipeline.StageDesign)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestEnvelopeOmitsUnsetOptionalFields(t *testing.T) {
	o := newOrchestrator(gateway.NewMemoryGateway(), nil)
	env, err := o.Prepare(pipeline.StageDataCollection, pipeline.StageContent, content(), Options{})
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.NotContains(t, m, "trace_id")
	assert.NotContains(t, m, "execution_time_ms")
}
