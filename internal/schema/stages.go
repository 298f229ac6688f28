package schema

import "github.com/lucasnoah/campaignflow/internal/pipeline"

// Registry keys.
const (
	KeyDataCollection = "data_collection_context"
	KeyContent        = "content_context"
	KeyDesign         = "design_context"
	KeyQuality        = "quality_context"
	KeyDelivery       = "delivery_context"
	KeyEnvelope       = "handoff_envelope"
)

// KeyFor returns the registry key of the context schema for stage.
func KeyFor(stage pipeline.Stage) string {
	switch stage {
	case pipeline.StageDataCollection:
		return KeyDataCollection
	case pipeline.StageContent:
		return KeyContent
	case pipeline.StageDesign:
		return KeyDesign
	case pipeline.StageQuality:
		return KeyQuality
	case pipeline.StageDelivery:
		return KeyDelivery
	}
	return ""
}

var dataCollectionSchema = Schema{
	Key: KeyDataCollection,
	Fields: []FieldSpec{
		{Path: "campaign_id", Kind: KindString, Required: true},
		{Path: "collected_at", Kind: KindTime, Required: true},
		{Path: "collection_status", Kind: KindString, Required: true,
			Enum: []string{pipeline.CollectionComplete, pipeline.CollectionPartial, pipeline.CollectionFailed}},
		{Path: "data_quality_score", Kind: KindInt, Required: true, Min: bound(0), Max: bound(100)},
		{Path: "destination", Kind: KindString, Compat: true},
		{Path: "sources_present", Kind: KindArray},
		{Path: "sources_missing", Kind: KindArray},
		{Path: "destination_analysis", Kind: KindObject},
		{Path: "market_intelligence", Kind: KindObject},
		{Path: "emotional_profile", Kind: KindObject},
		{Path: "trend_analysis", Kind: KindObject},
		{Path: "competitor_analysis", Kind: KindObject},
		{Path: "pricing_intelligence", Kind: KindObject},
	},
}

var contentSchema = Schema{
	Key: KeyContent,
	Fields: []FieldSpec{
		{Path: "campaign_id", Kind: KindString, Required: true},
		{Path: "campaign", Kind: KindObject, Required: true},
		{Path: "campaign.destination", Kind: KindString, Required: true},
		{Path: "campaign.created_at", Kind: KindTime, Required: true},
		{Path: "campaign.locale", Kind: KindString},
		{Path: "market_analysis", Kind: KindObject, Required: true},
		{Path: "market_analysis.destination", Kind: KindString, Required: true},
		{Path: "market_analysis.season", Kind: KindString, Required: true,
			Enum: []string{pipeline.SeasonSpring, pipeline.SeasonSummer, pipeline.SeasonAutumn, pipeline.SeasonWinter, pipeline.SeasonYearRound}},
		{Path: "market_analysis.demand_level", Kind: KindString, Required: true,
			Enum: []string{pipeline.DemandLow, pipeline.DemandMedium, pipeline.DemandHigh}},
		{Path: "market_analysis.key_insights", Kind: KindArray, Compat: true},
		{Path: "date_analysis", Kind: KindObject, Required: true},
		{Path: "date_analysis.destination", Kind: KindString, Required: true},
		{Path: "date_analysis.optimal_dates", Kind: KindArray, Required: true},
		{Path: "date_analysis.optimal_dates[].date", Kind: KindTime, Required: true},
		{Path: "date_analysis.booking_window_days", Kind: KindInt, Compat: true, Min: bound(0)},
		{Path: "pricing_analysis", Kind: KindObject, Required: true},
		{Path: "pricing_analysis.best_price", Kind: KindNumber, Required: true, Min: bound(0)},
		{Path: "pricing_analysis.min_price", Kind: KindNumber, Required: true, Min: bound(0)},
		{Path: "pricing_analysis.max_price", Kind: KindNumber, Required: true, Min: bound(0)},
		{Path: "pricing_analysis.currency", Kind: KindString, Required: true},
		{Path: "asset_strategy", Kind: KindObject, Required: true},
		{Path: "asset_strategy.visual_style", Kind: KindString, Compat: true},
		{Path: "asset_strategy.image_keywords", Kind: KindArray, Compat: true},
		{Path: "generated_copy", Kind: KindObject, Required: true},
		{Path: "generated_copy.subject", Kind: KindString, Required: true},
		{Path: "generated_copy.body", Kind: KindString, Required: true},
		{Path: "generated_copy.preheader", Kind: KindString, Compat: true},
		{Path: "generated_copy.headline", Kind: KindString},
		{Path: "generated_copy.cta", Kind: KindString},
		{Path: "technical", Kind: KindObject, Required: true},
		{Path: "technical.max_subject_length", Kind: KindInt, Required: true, Min: bound(1), Max: bound(998)},
		{Path: "technical.max_width_px", Kind: KindInt, Required: true, Min: bound(320), Max: bound(1200)},
		{Path: "technical.supported_clients", Kind: KindArray, Compat: true},
		{Path: "data_collection", Kind: KindObject, Compat: true},
	},
}

var designSchema = Schema{
	Key: KeyDesign,
	Fields: []FieldSpec{
		{Path: "campaign_id", Kind: KindString, Required: true},
		{Path: "content_context", Kind: KindObject, Required: true},
		{Path: "content_context.campaign_id", Kind: KindString, Required: true},
		{Path: "data_collection", Kind: KindObject, Compat: true},
		{Path: "visual_design", Kind: KindObject, Required: true},
		{Path: "visual_design.color_palette.primary", Kind: KindString, Required: true},
		{Path: "visual_design.color_palette.secondary", Kind: KindString},
		{Path: "visual_design.color_palette.accent", Kind: KindString},
		{Path: "visual_design.heading_font", Kind: KindString, Compat: true},
		{Path: "visual_design.body_font", Kind: KindString, Compat: true},
		{Path: "visual_design.layout", Kind: KindString, Required: true,
			Enum: []string{pipeline.LayoutSingleColumn, pipeline.LayoutTwoColumn, pipeline.LayoutGrid, pipeline.LayoutHero}},
		{Path: "asset_manifest", Kind: KindObject, Required: true},
		{Path: "asset_manifest.images", Kind: KindArray, Required: true},
		{Path: "asset_manifest.images[].id", Kind: KindString, Required: true},
		{Path: "asset_manifest.images[].url", Kind: KindString, Required: true},
		{Path: "asset_manifest.images[].alt", Kind: KindString, Compat: true},
		{Path: "asset_manifest.icons[].id", Kind: KindString, Required: true},
		{Path: "asset_usage", Kind: KindObject, Required: true},
		{Path: "asset_usage.referenced_asset_ids", Kind: KindArray, Compat: true},
		{Path: "content_integration", Kind: KindObject, Required: true},
		{Path: "content_integration.subject_line", Kind: KindString, Required: true},
		{Path: "content_integration.pricing_displayed", Kind: KindBool, Required: true},
		{Path: "content_integration.displayed_price", Kind: KindNumber, Min: bound(0)},
		{Path: "content_integration.dates_displayed", Kind: KindArray, Compat: true},
		{Path: "brand_elements", Kind: KindObject, Required: true},
		{Path: "brand_elements.primary_color", Kind: KindString, Compat: true},
		{Path: "brand_elements.logo_url", Kind: KindString, Compat: true},
		{Path: "superseded_fields", Kind: KindArray},
	},
}

var qualitySchema = Schema{
	Key: KeyQuality,
	Fields: []FieldSpec{
		{Path: "campaign_id", Kind: KindString, Required: true},
		{Path: "design_context", Kind: KindObject, Required: true},
		{Path: "design_context.campaign_id", Kind: KindString, Required: true},
		{Path: "data_collection", Kind: KindObject, Compat: true},
		{Path: "validation_summaries", Kind: KindObject, Compat: true},
		{Path: "accessibility", Kind: KindObject, Required: true},
		{Path: "accessibility.score", Kind: KindInt, Required: true, Min: bound(0), Max: bound(100)},
		{Path: "accessibility.wcag_level", Kind: KindString, Compat: true, Enum: []string{"A", "AA", "AAA"}},
		{Path: "rendering_tests", Kind: KindArray, Compat: true},
		{Path: "rendering_tests[].client", Kind: KindString, Required: true},
		{Path: "rendering_tests[].passed", Kind: KindBool, Required: true},
		{Path: "approval", Kind: KindObject, Required: true},
		{Path: "approval.status", Kind: KindString, Required: true,
			Enum: []string{pipeline.ApprovalApproved, pipeline.ApprovalRejected, pipeline.ApprovalNeedsChanges}},
		{Path: "overall_score", Kind: KindInt, Required: true, Min: bound(0), Max: bound(100)},
		{Path: "superseded_fields", Kind: KindArray},
	},
}

var deliverySchema = Schema{
	Key: KeyDelivery,
	Fields: []FieldSpec{
		{Path: "campaign_id", Kind: KindString, Required: true},
		{Path: "quality_context", Kind: KindObject, Required: true},
		{Path: "quality_context.campaign_id", Kind: KindString, Required: true},
		{Path: "data_collection", Kind: KindObject, Compat: true},
		{Path: "delivery_plan", Kind: KindObject, Required: true},
		{Path: "delivery_plan.channel", Kind: KindString, Required: true,
			Enum: []string{pipeline.ChannelEmail, pipeline.ChannelSMS, pipeline.ChannelPush}},
		{Path: "delivery_plan.send_at", Kind: KindTime, Required: true},
		{Path: "delivery_plan.timezone", Kind: KindString, Compat: true},
		{Path: "delivery_plan.segments", Kind: KindArray},
		{Path: "final_assets", Kind: KindObject, Required: true},
		{Path: "final_assets.html_key", Kind: KindString, Compat: true},
		{Path: "final_assets.asset_ids", Kind: KindArray},
		{Path: "tracking", Kind: KindObject, Required: true},
		{Path: "tracking.utm_campaign", Kind: KindString, Compat: true},
		{Path: "status", Kind: KindString, Required: true,
			Enum: []string{pipeline.DeliveryDraft, pipeline.DeliveryScheduled, pipeline.DeliverySent}},
		{Path: "superseded_fields", Kind: KindArray},
	},
}
