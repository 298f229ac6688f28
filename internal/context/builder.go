// Package context builds each stage's typed context from raw stage output
// and the accumulated context of the previous stage.
package context

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/provenance"
)

// Options holds the structural defaults the builder may apply.
type Options struct {
	CandidateMonths  int
	MaxSubjectLength int
	MaxWidthPx       int
	DefaultCurrency  string
	DefaultLocale    string
	SupportedClients []string
}

// DefaultOptions returns the built-in structural defaults.
func DefaultOptions() Options {
	return Options{
		CandidateMonths:  3,
		MaxSubjectLength: 60,
		MaxWidthPx:       600,
		DefaultCurrency:  "USD",
		DefaultLocale:    "en-US",
		SupportedClients: []string{"gmail", "outlook", "apple_mail"},
	}
}

// Builder assembles stage contexts. It holds no per-run state and is safe
// for concurrent use.
type Builder struct {
	opts Options
	now  func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(opts Options) *Builder {
	return &Builder{opts: opts, now: time.Now}
}

// WithClock returns a copy of b that reads the time from now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	cp := *b
	cp.now = now
	return &cp
}

// BuildOpts configures one build.
type BuildOpts struct {
	// Campaign is required when Prior is nil.
	Campaign string
	Raw      RawOutput
	// Prior is the context of the immediately preceding stage.
	Prior pipeline.StageContext
	// Artifacts are the upstream data documents by name; used to assemble
	// the data collection context when Prior carries none.
	Artifacts map[string]map[string]any
	// Summaries are the checker verdicts of earlier stages, recorded in the
	// quality context.
	Summaries map[pipeline.Stage]pipeline.ValidationSummary
	Sink      provenance.Sink
}

// Build produces the context of stage. It returns a BuilderInputError, and
// no context, when hard-required input is absent.
func (b *Builder) Build(stage pipeline.Stage, opts BuildOpts) (pipeline.StageContext, error) {
	if opts.Raw == nil {
		return nil, &pipeline.BuilderInputError{Stage: stage, Missing: []pipeline.FieldIssue{{Path: "$", Reason: "no raw output supplied"}}}
	}
	if u, ok := opts.Raw.(UnknownOutput); ok {
		return nil, &pipeline.BuilderInputError{Stage: stage, Missing: []pipeline.FieldIssue{{
			Path:   "$",
			Reason: fmt.Sprintf("unrecognized %s output shape (keys: %v)", u.Target, u.Keys),
		}}}
	}
	if opts.Raw.Stage() != stage {
		return nil, &pipeline.BuilderInputError{Stage: stage, Missing: []pipeline.FieldIssue{{
			Path:   "$",
			Reason: fmt.Sprintf("raw output is for stage %s", opts.Raw.Stage()),
		}}}
	}

	campaign, err := b.checkPrior(stage, opts)
	if err != nil {
		return nil, err
	}

	r := &resolution{
		campaign: campaign,
		stage:    stage,
		now:      b.now(),
		opts:     b.opts,
		prior:    opts.Prior,
		sink:     provenance.OrNop(opts.Sink),
		values:   make(map[string]any),
		sources:  make(map[string]provenance.Source),
	}
	if stage == pipeline.StageQuality {
		r.values["validation_summaries"] = summaries(opts.Raw.doc(), opts.Summaries)
	}
	r.apply(Rules(stage), opts.Raw.doc())
	if len(r.missing) > 0 {
		return nil, &pipeline.BuilderInputError{Stage: stage, Missing: r.missing}
	}

	dc, err := b.dataCollection(r, opts)
	if err != nil {
		return nil, err
	}

	switch stage {
	case pipeline.StageContent:
		return assembleContent(r, dc), nil
	case pipeline.StageDesign:
		return assembleDesign(r, dc), nil
	case pipeline.StageQuality:
		return assembleQuality(r, dc), nil
	case pipeline.StageDelivery:
		return assembleDelivery(r, dc), nil
	}
	return nil, fmt.Errorf("no builder for stage %q", stage)
}

// checkPrior verifies the prior context belongs to the preceding stage and
// the same campaign, and returns the campaign id.
func (b *Builder) checkPrior(stage pipeline.Stage, opts BuildOpts) (string, error) {
	want, ok := stage.Prev()
	if !ok {
		return "", fmt.Errorf("stage %q is not built from raw output", stage)
	}
	fail := func(reason string) error {
		return &pipeline.BuilderInputError{Stage: stage, Missing: []pipeline.FieldIssue{{Path: "prior_context", Reason: reason}}}
	}

	if pipeline.IsNil(opts.Prior) {
		// Content may start from artifacts alone.
		if stage != pipeline.StageContent {
			return "", fail(fmt.Sprintf("%s context required", want))
		}
		if opts.Campaign == "" {
			return "", fail("campaign id required when no prior context is given")
		}
		return opts.Campaign, nil
	}
	if got := opts.Prior.Stage(); got != want {
		return "", fail(fmt.Sprintf("got %s context, want %s", got, want))
	}
	campaign := opts.Prior.Campaign()
	if opts.Campaign != "" && opts.Campaign != campaign {
		return "", fail(fmt.Sprintf("prior context belongs to campaign %q, not %q", campaign, opts.Campaign))
	}
	return campaign, nil
}

// dataCollection threads the data collection context forward. A newer one
// supplied in the raw output wins; otherwise the prior's is carried
// unchanged; a content build without either assembles one from artifacts.
func (b *Builder) dataCollection(r *resolution, opts BuildOpts) (*pipeline.DataCollectionContext, error) {
	if raw, ok := opts.Raw.doc()["data_collection"]; ok && raw != nil {
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode supplied data collection: %w", err)
		}
		var dc pipeline.DataCollectionContext
		if err := json.Unmarshal(buf, &dc); err != nil {
			return nil, &pipeline.BuilderInputError{Stage: r.stage, Missing: []pipeline.FieldIssue{{
				Path: "data_collection", Reason: fmt.Sprintf("malformed: %v", err),
			}}}
		}
		if dc.CampaignID == "" {
			dc.CampaignID = r.campaign
		}
		r.record("data_collection", provenance.SourceRaw, "newer data collection supplied")
		return &dc, nil
	}
	if dc := pipeline.DataCollectionOf(opts.Prior); dc != nil {
		r.record("data_collection", provenance.SourceCarried, "")
		return dc, nil
	}
	if r.stage == pipeline.StageContent {
		r.record("data_collection", provenance.SourceArtifact, fmt.Sprintf("%d artifacts", len(opts.Artifacts)))
		return BuildDataCollection(r.campaign, opts.Artifacts, r.now), nil
	}
	return nil, nil
}

func summaries(doc map[string]any, given map[pipeline.Stage]pipeline.ValidationSummary) map[pipeline.Stage]pipeline.ValidationSummary {
	out := make(map[pipeline.Stage]pipeline.ValidationSummary, len(given))
	if raw, ok := doc["validation_summaries"]; ok {
		if buf, err := json.Marshal(raw); err == nil {
			var decoded map[pipeline.Stage]pipeline.ValidationSummary
			if json.Unmarshal(buf, &decoded) == nil {
				for k, v := range decoded {
					if k.Valid() {
						out[k] = v
					}
				}
			}
		}
	}
	// Checker verdicts computed by the pipeline take precedence.
	for k, v := range given {
		out[k] = v
	}
	return out
}

func assembleContent(r *resolution, dc *pipeline.DataCollectionContext) *pipeline.ContentContext {
	dates, _ := r.values["date_analysis.optimal_dates"].([]pipeline.CandidateDate)
	var missing []string
	for _, p := range []string{"pricing_analysis.best_price", "pricing_analysis.min_price", "pricing_analysis.max_price"} {
		if r.isFlagged(p) {
			missing = append(missing, p)
		}
	}
	return &pipeline.ContentContext{
		CampaignID: r.campaign,
		Metadata: pipeline.CampaignMetadata{
			Name:        r.str("campaign.name"),
			Destination: r.str("campaign.destination"),
			Locale:      r.str("campaign.locale"),
			Audience:    r.str("campaign.audience"),
			CreatedAt:   r.now.UTC(),
		},
		MarketAnalysis: pipeline.MarketAnalysis{
			Destination:     r.str("market_analysis.destination"),
			Season:          r.str("market_analysis.season"),
			SeasonDefaulted: r.sourceOf("market_analysis.season") == provenance.SourceDefault,
			DemandLevel:     r.str("market_analysis.demand_level"),
			KeyInsights:     r.list("market_analysis.key_insights"),
		},
		DateAnalysis: pipeline.DateAnalysis{
			Destination:       r.str("date_analysis.destination"),
			OptimalDates:      dates,
			DatesGenerated:    r.sourceOf("date_analysis.optimal_dates") == provenance.SourceGenerated,
			BookingWindowDays: r.integer("date_analysis.booking_window_days"),
		},
		Pricing: pipeline.PricingAnalysis{
			BestPrice:     r.float("pricing_analysis.best_price"),
			MinPrice:      r.float("pricing_analysis.min_price"),
			MaxPrice:      r.float("pricing_analysis.max_price"),
			Currency:      r.str("pricing_analysis.currency"),
			PriceMissing:  r.isFlagged("pricing_analysis.best_price"),
			MissingFields: missing,
		},
		AssetStrategy: pipeline.AssetStrategy{
			VisualStyle:    r.str("asset_strategy.visual_style"),
			Mood:           r.str("asset_strategy.mood"),
			ImageKeywords:  r.list("asset_strategy.image_keywords"),
			RequiredAssets: r.list("asset_strategy.required_assets"),
		},
		Copy: pipeline.GeneratedCopy{
			Subject:   r.str("generated_copy.subject"),
			Preheader: r.str("generated_copy.preheader"),
			Headline:  r.str("generated_copy.headline"),
			Body:      r.str("generated_copy.body"),
			CTA:       r.str("generated_copy.cta"),
		},
		Technical: pipeline.TechnicalConstraints{
			MaxSubjectLength: r.integer("technical.max_subject_length"),
			MaxWidthPx:       r.integer("technical.max_width_px"),
			SupportedClients: r.list("technical.supported_clients"),
		},
		DataCollection: dc,
	}
}

func assembleDesign(r *resolution, dc *pipeline.DataCollectionContext) *pipeline.DesignContext {
	images, _ := r.values["asset_manifest.images"].([]pipeline.Asset)
	icons, _ := r.values["asset_manifest.icons"].([]pipeline.Asset)
	return &pipeline.DesignContext{
		CampaignID:     r.campaign,
		ContentContext: pipeline.EmbeddedContent(r.prior),
		DataCollection: dc,
		VisualDesign: pipeline.VisualDesign{
			Palette: pipeline.ColorPalette{
				Primary:   r.str("visual_design.color_palette.primary"),
				Secondary: r.str("visual_design.color_palette.secondary"),
				Accent:    r.str("visual_design.color_palette.accent"),
			},
			HeadingFont: r.str("visual_design.heading_font"),
			BodyFont:    r.str("visual_design.body_font"),
			Layout:      r.str("visual_design.layout"),
		},
		AssetManifest: pipeline.AssetManifest{Images: images, Icons: icons},
		AssetUsage:    pipeline.AssetUsage{ReferencedAssetIDs: r.list("asset_usage.referenced_asset_ids")},
		ContentIntegration: pipeline.ContentIntegration{
			SubjectLine:      r.str("content_integration.subject_line"),
			Preheader:        r.str("content_integration.preheader"),
			Headline:         r.str("content_integration.headline"),
			Destination:      r.str("content_integration.destination"),
			PricingDisplayed: r.boolean("content_integration.pricing_displayed"),
			DisplayedPrice:   r.float("content_integration.displayed_price"),
			DatesDisplayed:   r.list("content_integration.dates_displayed"),
		},
		BrandElements: pipeline.BrandElements{
			PrimaryColor:   r.str("brand_elements.primary_color"),
			SecondaryColor: r.str("brand_elements.secondary_color"),
			AccentColor:    r.str("brand_elements.accent_color"),
			LogoURL:        r.str("brand_elements.logo_url"),
			FontFamily:     r.str("brand_elements.font_family"),
		},
		SupersededFields: r.list("superseded_fields"),
	}
}

func assembleQuality(r *resolution, dc *pipeline.DataCollectionContext) *pipeline.QualityContext {
	tests, _ := r.values["rendering_tests"].([]pipeline.RenderingTest)
	sums, _ := r.values["validation_summaries"].(map[pipeline.Stage]pipeline.ValidationSummary)
	if len(sums) == 0 {
		sums = nil
	}
	return &pipeline.QualityContext{
		CampaignID:          r.campaign,
		DesignContext:       pipeline.EmbeddedDesign(r.prior),
		DataCollection:      dc,
		ValidationSummaries: sums,
		Accessibility: pipeline.Accessibility{
			Score:     r.integer("accessibility.score"),
			WCAGLevel: r.str("accessibility.wcag_level"),
			Issues:    r.list("accessibility.issues"),
		},
		RenderingTests: tests,
		Approval: pipeline.Approval{
			Status:   r.str("approval.status"),
			Reviewer: r.str("approval.reviewer"),
			Notes:    r.str("approval.notes"),
		},
		OverallScore:     r.integer("overall_score"),
		SupersededFields: r.list("superseded_fields"),
	}
}

func assembleDelivery(r *resolution, dc *pipeline.DataCollectionContext) *pipeline.DeliveryContext {
	return &pipeline.DeliveryContext{
		CampaignID:     r.campaign,
		QualityContext: pipeline.EmbeddedQuality(r.prior),
		DataCollection: dc,
		DeliveryPlan: pipeline.DeliveryPlan{
			Channel:  r.str("delivery_plan.channel"),
			SendAt:   r.timestamp("delivery_plan.send_at"),
			Timezone: r.str("delivery_plan.timezone"),
			Segments: r.list("delivery_plan.segments"),
		},
		FinalAssets: pipeline.FinalAssets{
			HTMLKey:  r.str("final_assets.html_key"),
			TextKey:  r.str("final_assets.text_key"),
			AssetIDs: r.list("final_assets.asset_ids"),
		},
		Tracking: pipeline.Tracking{
			UTMCampaign: r.str("tracking.utm_campaign"),
			UTMSource:   r.str("tracking.utm_source"),
			UTMMedium:   r.str("tracking.utm_medium"),
		},
		Status:           r.str("status"),
		SupersededFields: r.list("superseded_fields"),
	}
}
