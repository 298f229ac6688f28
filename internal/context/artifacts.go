package context

import (
	stdctx "context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/lucasnoah/campaignflow/internal/gateway"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Upstream artifact names, in the order sources are reported.
const (
	ArtifactDestinationAnalysis = "destination-analysis"
	ArtifactMarketIntelligence  = "market-intelligence"
	ArtifactEmotionalProfile    = "emotional-profile"
	ArtifactTrendAnalysis       = "trend-analysis"
	ArtifactCompetitorAnalysis  = "competitor-analysis"
	ArtifactPricingIntelligence = "pricing-intelligence"
)

// ArtifactNames lists every upstream data source.
var ArtifactNames = []string{
	ArtifactDestinationAnalysis,
	ArtifactMarketIntelligence,
	ArtifactEmotionalProfile,
	ArtifactTrendAnalysis,
	ArtifactCompetitorAnalysis,
	ArtifactPricingIntelligence,
}

// LoadArtifacts reads every upstream artifact of campaign that exists.
// Absent artifacts are skipped; read and decode failures are returned.
func LoadArtifacts(ctx stdctx.Context, gw gateway.Gateway, campaign string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	for _, name := range ArtifactNames {
		key := gateway.ArtifactKey(campaign, name)
		data, err := gw.Get(ctx, key)
		if errors.Is(err, gateway.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, &pipeline.PersistenceError{Op: "get", Key: key, Err: err}
		}
		doc, err := decodeDocument(data)
		if err != nil {
			return nil, fmt.Errorf("decode artifact %s: %w", name, err)
		}
		out[name] = doc
	}
	return out, nil
}

// ParseArtifact decodes an artifact document and reports whether name is a
// known upstream source.
func ParseArtifact(name string, data []byte) (map[string]any, error) {
	if !slices.Contains(ArtifactNames, name) {
		return nil, fmt.Errorf("unknown artifact %q (want one of %s)", name, strings.Join(ArtifactNames, ", "))
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", name, err)
	}
	return doc, nil
}

// ClassifyCollection maps the number of present sources to a status.
func ClassifyCollection(present int) string {
	switch {
	case present >= 4:
		return pipeline.CollectionComplete
	case present >= 2:
		return pipeline.CollectionPartial
	}
	return pipeline.CollectionFailed
}

// BuildDataCollection assembles the data collection context from whichever
// artifacts are present.
func BuildDataCollection(campaign string, artifacts map[string]map[string]any, now time.Time) *pipeline.DataCollectionContext {
	dc := &pipeline.DataCollectionContext{
		CampaignID:  campaign,
		CollectedAt: now.UTC(),
	}
	for _, name := range ArtifactNames {
		doc, ok := artifacts[name]
		if !ok || len(doc) == 0 {
			dc.SourcesMissing = append(dc.SourcesMissing, name)
			continue
		}
		dc.SourcesPresent = append(dc.SourcesPresent, name)
		switch name {
		case ArtifactDestinationAnalysis:
			dc.DestinationAnalysis = doc
		case ArtifactMarketIntelligence:
			dc.MarketIntelligence = doc
		case ArtifactEmotionalProfile:
			dc.EmotionalProfile = doc
		case ArtifactTrendAnalysis:
			dc.TrendAnalysis = doc
		case ArtifactCompetitorAnalysis:
			dc.CompetitorAnalysis = doc
		case ArtifactPricingIntelligence:
			dc.PricingIntelligence = doc
		}
	}
	if dc.DestinationAnalysis != nil {
		for _, k := range []string{"destination", "name", "city"} {
			if s, ok := dc.DestinationAnalysis[k].(string); ok && s != "" {
				dc.Destination = s
				break
			}
		}
	}
	n := len(dc.SourcesPresent)
	dc.CollectionStatus = ClassifyCollection(n)
	dc.DataQualityScore = int(math.Round(float64(n) / float64(len(ArtifactNames)) * 100))
	return dc
}
