package context

import (
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Rules returns the field rule table for stage. The tables are the single
// place where required inputs, normalizers and default policies live.
func Rules(stage pipeline.Stage) []FieldRule {
	switch stage {
	case pipeline.StageContent:
		return contentRules
	case pipeline.StageDesign:
		return designRules
	case pipeline.StageQuality:
		return qualityRules
	case pipeline.StageDelivery:
		return deliveryRules
	}
	return nil
}

// RequiredInputs lists the raw paths stage cannot be built without.
func RequiredInputs(stage pipeline.Stage) []string {
	var out []string
	for _, r := range Rules(stage) {
		if r.Required {
			out = append(out, r.Input)
		}
	}
	return out
}

func fromOptions(fn func(o Options) any) DefaultPolicy {
	return Derived(func(r *resolution) (any, bool) { return fn(r.opts), true })
}

func priorContent(r *resolution) *pipeline.ContentContext {
	return pipeline.EmbeddedContent(r.prior)
}

func priorDesign(r *resolution) *pipeline.DesignContext {
	return pipeline.EmbeddedDesign(r.prior)
}

func carryText(fn func(c *pipeline.ContentContext) string) DefaultPolicy {
	return Carried(func(r *resolution) (any, bool) {
		c := priorContent(r)
		if c == nil {
			return nil, false
		}
		s := fn(c)
		return s, s != ""
	})
}

var contentRules = []FieldRule{
	{Path: "campaign.destination", Input: "campaign.destination", Required: true, Normalize: Text, Default: NoDefault},
	{Path: "campaign.name", Input: "campaign.name", Normalize: Text, Default: NoDefault},
	{Path: "campaign.locale", Input: "campaign.locale", Normalize: Text,
		Default: fromOptions(func(o Options) any { return o.DefaultLocale })},
	{Path: "campaign.audience", Input: "campaign.audience", Normalize: Text, Default: NoDefault},

	{Path: "market_analysis.destination", Input: "market.destination", Normalize: Text, Default: SameAs("campaign.destination")},
	{Path: "market_analysis.season", Input: "market.season", Normalize: Season, Default: Structural(pipeline.SeasonYearRound)},
	{Path: "market_analysis.demand_level", Input: "market.demand_level", Normalize: Demand, Default: Structural(pipeline.DemandMedium)},
	{Path: "market_analysis.key_insights", Input: "market.key_insights", Normalize: StringList, Default: NoDefault},

	{Path: "date_analysis.destination", Input: "dates.destination", Normalize: Text, Default: SameAs("campaign.destination")},
	{Path: "date_analysis.optimal_dates", Input: "dates.optimal_dates", Normalize: Dates,
		Default: Generated(func(r *resolution) (any, bool) {
			return CandidateDates(r.now, r.opts.CandidateMonths), r.opts.CandidateMonths > 0
		})},
	{Path: "date_analysis.booking_window_days", Input: "dates.booking_window_days", Normalize: Int, Default: NoDefault},

	{Path: "pricing_analysis.best_price", Input: "pricing.best_price", Required: true, Normalize: Price, Default: FlagMissing},
	{Path: "pricing_analysis.min_price", Input: "pricing.min_price", Normalize: Price, Default: FlagMissing},
	{Path: "pricing_analysis.max_price", Input: "pricing.max_price", Normalize: Price, Default: FlagMissing},
	{Path: "pricing_analysis.currency", Input: "pricing.currency", Normalize: Upper,
		Default: fromOptions(func(o Options) any { return o.DefaultCurrency })},

	{Path: "asset_strategy.visual_style", Input: "assets.visual_style", Normalize: Text, Default: NoDefault},
	{Path: "asset_strategy.mood", Input: "assets.mood", Normalize: Text, Default: NoDefault},
	{Path: "asset_strategy.image_keywords", Input: "assets.image_keywords", Normalize: StringList, Default: NoDefault},
	{Path: "asset_strategy.required_assets", Input: "assets.required_assets", Normalize: StringList, Default: NoDefault},

	{Path: "generated_copy.subject", Input: "copy.subject", Required: true, Normalize: Text, Default: NoDefault},
	{Path: "generated_copy.body", Input: "copy.body", Required: true, Normalize: Text, Default: NoDefault},
	{Path: "generated_copy.preheader", Input: "copy.preheader", Normalize: Text, Default: NoDefault},
	{Path: "generated_copy.headline", Input: "copy.headline", Normalize: Text, Default: NoDefault},
	{Path: "generated_copy.cta", Input: "copy.cta", Normalize: Text, Default: NoDefault},

	{Path: "technical.max_subject_length", Input: "technical.max_subject_length", Normalize: Int,
		Default: fromOptions(func(o Options) any { return o.MaxSubjectLength })},
	{Path: "technical.max_width_px", Input: "technical.max_width_px", Normalize: Int,
		Default: fromOptions(func(o Options) any { return o.MaxWidthPx })},
	{Path: "technical.supported_clients", Input: "technical.supported_clients", Normalize: StringList,
		Default: fromOptions(func(o Options) any { return append([]string(nil), o.SupportedClients...) })},
}

var designRules = []FieldRule{
	{Path: "visual_design", Input: "visual_design", Required: true, Normalize: Section, Default: NoDefault},
	{Path: "visual_design.color_palette.primary", Input: "visual_design.color_palette.primary", Normalize: Text, Default: NoDefault},
	{Path: "visual_design.color_palette.secondary", Input: "visual_design.color_palette.secondary", Normalize: Text, Default: NoDefault},
	{Path: "visual_design.color_palette.accent", Input: "visual_design.color_palette.accent", Normalize: Text, Default: NoDefault},
	{Path: "visual_design.heading_font", Input: "visual_design.heading_font", Normalize: Text, Default: NoDefault},
	{Path: "visual_design.body_font", Input: "visual_design.body_font", Normalize: Text, Default: SameAs("visual_design.heading_font")},
	{Path: "visual_design.layout", Input: "visual_design.layout", Normalize: Layout, Default: Structural(pipeline.LayoutSingleColumn)},

	{Path: "asset_manifest", Input: "asset_manifest", Required: true, Normalize: Section, Default: NoDefault},
	{Path: "asset_manifest.images", Input: "asset_manifest.images", Normalize: Assets("image"), Default: NoDefault},
	{Path: "asset_manifest.icons", Input: "asset_manifest.icons", Normalize: Assets("icon"), Default: NoDefault},
	{Path: "asset_usage.referenced_asset_ids", Input: "asset_usage.referenced_asset_ids", Normalize: StringList, Default: NoDefault},

	{Path: "content_integration.subject_line", Input: "content_integration.subject_line", Normalize: Text,
		Default: carryText(func(c *pipeline.ContentContext) string { return c.Copy.Subject })},
	{Path: "content_integration.preheader", Input: "content_integration.preheader", Normalize: Text,
		Default: carryText(func(c *pipeline.ContentContext) string { return c.Copy.Preheader })},
	{Path: "content_integration.headline", Input: "content_integration.headline", Normalize: Text,
		Default: carryText(func(c *pipeline.ContentContext) string { return c.Copy.Headline })},
	{Path: "content_integration.destination", Input: "content_integration.destination", Normalize: Text,
		Default: carryText(func(c *pipeline.ContentContext) string { return c.Metadata.Destination })},
	{Path: "content_integration.pricing_displayed", Input: "content_integration.pricing_displayed", Normalize: Bool, Default: Structural(false)},
	{Path: "content_integration.displayed_price", Input: "content_integration.displayed_price", Normalize: Price, Default: NoDefault},
	{Path: "content_integration.dates_displayed", Input: "content_integration.dates_displayed", Normalize: StringList, Default: NoDefault},

	{Path: "brand_elements.primary_color", Input: "brand_elements.primary_color", Normalize: Text, Default: SameAs("visual_design.color_palette.primary")},
	{Path: "brand_elements.secondary_color", Input: "brand_elements.secondary_color", Normalize: Text, Default: SameAs("visual_design.color_palette.secondary")},
	{Path: "brand_elements.accent_color", Input: "brand_elements.accent_color", Normalize: Text, Default: SameAs("visual_design.color_palette.accent")},
	{Path: "brand_elements.logo_url", Input: "brand_elements.logo_url", Normalize: Text, Default: NoDefault},
	{Path: "brand_elements.font_family", Input: "brand_elements.font_family", Normalize: Text, Default: SameAs("visual_design.heading_font")},

	{Path: "superseded_fields", Input: "superseded_fields", Normalize: StringList, Default: NoDefault},
}

var qualityRules = []FieldRule{
	{Path: "approval.status", Input: "approval.status", Required: true, Normalize: ApprovalStatus, Default: NoDefault},
	{Path: "approval.reviewer", Input: "approval.reviewer", Normalize: Text, Default: NoDefault},
	{Path: "approval.notes", Input: "approval.notes", Normalize: Text, Default: NoDefault},
	{Path: "accessibility.score", Input: "accessibility.score", Normalize: Percent, Default: NoDefault},
	{Path: "accessibility.wcag_level", Input: "accessibility.wcag_level", Normalize: Upper, Default: NoDefault},
	{Path: "accessibility.issues", Input: "accessibility.issues", Normalize: StringList, Default: NoDefault},
	{Path: "rendering_tests", Input: "rendering_tests", Normalize: RenderingTests, Default: NoDefault},
	{Path: "overall_score", Input: "overall_score", Normalize: Percent, Default: Derived(averageSummaryScore)},
	{Path: "superseded_fields", Input: "superseded_fields", Normalize: StringList, Default: NoDefault},
}

var deliveryRules = []FieldRule{
	{Path: "delivery_plan.channel", Input: "delivery_plan.channel", Required: true, Normalize: Channel, Default: NoDefault},
	{Path: "delivery_plan.send_at", Input: "delivery_plan.send_at", Normalize: Time,
		Default: Generated(func(r *resolution) (any, bool) {
			return r.now.UTC().Add(24 * time.Hour).Truncate(time.Hour), true
		})},
	{Path: "delivery_plan.timezone", Input: "delivery_plan.timezone", Normalize: Text, Default: Structural("UTC")},
	{Path: "delivery_plan.segments", Input: "delivery_plan.segments", Normalize: StringList, Default: NoDefault},

	{Path: "final_assets.html_key", Input: "final_assets.html_key", Normalize: Text, Default: NoDefault},
	{Path: "final_assets.text_key", Input: "final_assets.text_key", Normalize: Text, Default: NoDefault},
	{Path: "final_assets.asset_ids", Input: "final_assets.asset_ids", Normalize: StringList,
		Default: Carried(func(r *resolution) (any, bool) {
			d := priorDesign(r)
			if d == nil || len(d.AssetUsage.ReferencedAssetIDs) == 0 {
				return nil, false
			}
			return append([]string(nil), d.AssetUsage.ReferencedAssetIDs...), true
		})},

	{Path: "tracking.utm_campaign", Input: "tracking.utm_campaign", Normalize: Text,
		Default: Derived(func(r *resolution) (any, bool) { return r.campaign, r.campaign != "" })},
	{Path: "tracking.utm_source", Input: "tracking.utm_source", Normalize: Text, Default: Structural("campaignflow")},
	{Path: "tracking.utm_medium", Input: "tracking.utm_medium", Normalize: Text, Default: SameAs("delivery_plan.channel")},

	{Path: "status", Input: "status", Normalize: DeliveryStatus, Default: Structural(pipeline.DeliveryDraft)},
	{Path: "superseded_fields", Input: "superseded_fields", Normalize: StringList, Default: NoDefault},
}

// averageSummaryScore derives the quality stage's overall score from the
// per-stage validation summaries handed to the builder.
func averageSummaryScore(r *resolution) (any, bool) {
	q, ok := r.values["validation_summaries"].(map[pipeline.Stage]pipeline.ValidationSummary)
	if !ok || len(q) == 0 {
		return nil, false
	}
	total := 0
	for _, s := range q {
		total += s.QualityScore
	}
	return (total + len(q)/2) / len(q), true
}
