package continuity

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Transition penalties.
const (
	penaltyDataMissing       = 30
	penaltyCollectionFailed  = 20
	penaltyCollectionPartial = 10
	penaltyDataDestination   = 20
	penaltyNoInsights        = 10

	penaltySubject           = 25
	penaltyPricing           = 25
	penaltyDates             = 20
	penaltyDesignDestination = 15
	penaltyHeadline          = 10

	penaltyDesignMissing    = 40
	penaltyDesignSummary    = 25
	penaltyNoRenderingTests = 20
	penaltyNoAccessibility  = 15

	penaltyQualityMissing = 40
	penaltyNotApproved    = 30
	penaltyForeignAssets  = 15
	penaltyNoUTM          = 10
)

type scorer struct {
	t TransitionScore
}

func (s *scorer) penalize(field string, sev Severity, penalty int, format string, args ...any) {
	s.t.Score -= penalty
	s.t.Issues = append(s.t.Issues, Issue{
		Scope:    fmt.Sprintf("%s->%s", s.t.From, s.t.To),
		Field:    field,
		Severity: sev,
		Message:  fmt.Sprintf(format, args...),
		Penalty:  penalty,
	})
}

func transitions(s *pipeline.WorkflowState) []TransitionScore {
	out := make([]TransitionScore, 0, len(pipeline.ExpectedProgression)-1)
	for i := 1; i < len(pipeline.ExpectedProgression); i++ {
		from, to := pipeline.ExpectedProgression[i-1], pipeline.ExpectedProgression[i]
		sc := &scorer{t: TransitionScore{From: from, To: to}}
		target := s.Contexts.Get(to)
		if target != nil {
			sc.t.Evaluated = true
			sc.t.Score = 100
			switch c := target.(type) {
			case *pipeline.ContentContext:
				sc.dataToContent(s.Contexts.DataCollection, c)
			case *pipeline.DesignContext:
				sc.contentToDesign(s.Contexts.Content, c)
			case *pipeline.QualityContext:
				sc.designToQuality(c)
			case *pipeline.DeliveryContext:
				sc.qualityToDelivery(c)
			}
			sc.t.Score = clamp(sc.t.Score)
		}
		out = append(out, sc.t)
	}
	return out
}

func fold(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

func (s *scorer) dataToContent(stored *pipeline.DataCollectionContext, c *pipeline.ContentContext) {
	dc := c.DataCollection
	if dc == nil {
		dc = stored
	}
	if dc == nil {
		s.penalize("data_collection", SeverityHigh, penaltyDataMissing, "content carries no data collection context")
		return
	}
	switch dc.CollectionStatus {
	case pipeline.CollectionFailed:
		s.penalize("data_collection.collection_status", SeverityMedium, penaltyCollectionFailed, "data collection failed")
	case pipeline.CollectionPartial:
		s.penalize("data_collection.collection_status", SeverityLow, penaltyCollectionPartial, "data collection is partial")
	}
	if dc.Destination != "" && fold(dc.Destination) != fold(c.Metadata.Destination) {
		s.penalize("campaign.destination", SeverityHigh, penaltyDataDestination,
			"research covers %q, content targets %q", dc.Destination, c.Metadata.Destination)
	}
	if len(dc.SourcesPresent) > 0 && len(c.MarketAnalysis.KeyInsights) == 0 {
		s.penalize("market_analysis.key_insights", SeverityLow, penaltyNoInsights,
			"%d research sources produced no market insights", len(dc.SourcesPresent))
	}
}

func (s *scorer) contentToDesign(stored *pipeline.ContentContext, d *pipeline.DesignContext) {
	content := d.ContentContext
	if content == nil {
		content = stored
	}
	if content == nil {
		s.penalize("content_context", SeverityHigh, penaltyDesignMissing, "design carries no content context")
		return
	}
	ci := d.ContentIntegration
	superseded := d.SupersededFields

	if content.Copy.Subject != "" && fold(ci.SubjectLine) != fold(content.Copy.Subject) &&
		!slices.Contains(superseded, "content_integration.subject_line") {
		s.penalize("content_integration.subject_line", SeverityHigh, penaltySubject, "subject line is not reflected in the design")
	}
	if content.Pricing.BestPrice > 0 && !ci.PricingDisplayed &&
		!slices.Contains(superseded, "content_integration.pricing_displayed") {
		s.penalize("content_integration.pricing_displayed", SeverityHigh, penaltyPricing, "best price %.2f is not displayed", content.Pricing.BestPrice)
	}
	if len(content.DateAnalysis.OptimalDates) > 0 && len(ci.DatesDisplayed) == 0 &&
		!slices.Contains(superseded, "content_integration.dates_displayed") {
		s.penalize("content_integration.dates_displayed", SeverityMedium, penaltyDates, "no optimal date is displayed")
	}
	if ci.Destination != "" && fold(ci.Destination) != fold(content.Metadata.Destination) {
		s.penalize("content_integration.destination", SeverityMedium, penaltyDesignDestination,
			"design names %q, content targets %q", ci.Destination, content.Metadata.Destination)
	}
	if content.Copy.Headline != "" && fold(ci.Headline) != fold(content.Copy.Headline) &&
		!slices.Contains(superseded, "content_integration.headline") {
		s.penalize("content_integration.headline", SeverityLow, penaltyHeadline, "headline is not reflected in the design")
	}
}

func (s *scorer) designToQuality(q *pipeline.QualityContext) {
	if q.DesignContext == nil {
		s.penalize("design_context", SeverityHigh, penaltyDesignMissing, "quality carries no design context")
	}
	if _, ok := q.ValidationSummaries[pipeline.StageDesign]; !ok {
		s.penalize("validation_summaries.design", SeverityMedium, penaltyDesignSummary, "design validation summary is missing")
	}
	if len(q.RenderingTests) == 0 {
		s.penalize("rendering_tests", SeverityMedium, penaltyNoRenderingTests, "no rendering tests were recorded")
	}
	if q.Accessibility.Score == 0 {
		s.penalize("accessibility.score", SeverityLow, penaltyNoAccessibility, "accessibility was not scored")
	}
}

func (s *scorer) qualityToDelivery(d *pipeline.DeliveryContext) {
	q := d.QualityContext
	if q == nil {
		s.penalize("quality_context", SeverityHigh, penaltyQualityMissing, "delivery carries no quality context")
	} else if q.Approval.Status != pipeline.ApprovalApproved {
		s.penalize("quality_context.approval.status", SeverityHigh, penaltyNotApproved, "approval is %q", q.Approval.Status)
	}
	if design := pipeline.EmbeddedDesign(d); design != nil && len(d.FinalAssets.AssetIDs) > 0 {
		manifest := manifestIDs(design)
		var foreign []string
		for _, id := range d.FinalAssets.AssetIDs {
			if !manifest[id] {
				foreign = append(foreign, id)
			}
		}
		if len(foreign) > 0 {
			s.penalize("final_assets.asset_ids", SeverityMedium, penaltyForeignAssets,
				"assets outside the design manifest: %s", strings.Join(foreign, ", "))
		}
	}
	if d.Tracking.UTMCampaign == "" {
		s.penalize("tracking.utm_campaign", SeverityLow, penaltyNoUTM, "utm_campaign is empty")
	}
}

func manifestIDs(d *pipeline.DesignContext) map[string]bool {
	ids := make(map[string]bool)
	for _, a := range d.AssetManifest.All() {
		if a.ID != "" {
			ids[a.ID] = true
		}
	}
	return ids
}
