package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// StageContext is the immutable, typed bundle a stage hands to its successor.
// Implementations are never mutated once built; later stages embed them.
type StageContext interface {
	Stage() Stage
	Campaign() string
}

// Collection statuses for DataCollectionContext.
const (
	CollectionComplete = "complete"
	CollectionPartial  = "partial"
	CollectionFailed   = "failed"
)

// DataCollectionContext carries raw upstream research through every stage.
type DataCollectionContext struct {
	CampaignID          string         `json:"campaign_id"`
	Destination         string         `json:"destination,omitempty"`
	CollectedAt         time.Time      `json:"collected_at"`
	SourcesPresent      []string       `json:"sources_present,omitempty"`
	SourcesMissing      []string       `json:"sources_missing,omitempty"`
	CollectionStatus    string         `json:"collection_status"`
	DataQualityScore    int            `json:"data_quality_score"`
	DestinationAnalysis map[string]any `json:"destination_analysis,omitempty"`
	MarketIntelligence  map[string]any `json:"market_intelligence,omitempty"`
	EmotionalProfile    map[string]any `json:"emotional_profile,omitempty"`
	TrendAnalysis       map[string]any `json:"trend_analysis,omitempty"`
	CompetitorAnalysis  map[string]any `json:"competitor_analysis,omitempty"`
	PricingIntelligence map[string]any `json:"pricing_intelligence,omitempty"`
}

func (c *DataCollectionContext) Stage() Stage     { return StageDataCollection }
func (c *DataCollectionContext) Campaign() string { return c.CampaignID }

// --- content ---

// Season domain for market analysis.
const (
	SeasonSpring    = "spring"
	SeasonSummer    = "summer"
	SeasonAutumn    = "autumn"
	SeasonWinter    = "winter"
	SeasonYearRound = "year_round"
)

// Demand levels for market analysis.
const (
	DemandLow    = "low"
	DemandMedium = "medium"
	DemandHigh   = "high"
)

// ContentContext is the output of the content stage.
type ContentContext struct {
	CampaignID     string                 `json:"campaign_id"`
	Metadata       CampaignMetadata       `json:"campaign"`
	MarketAnalysis MarketAnalysis         `json:"market_analysis"`
	DateAnalysis   DateAnalysis           `json:"date_analysis"`
	Pricing        PricingAnalysis        `json:"pricing_analysis"`
	AssetStrategy  AssetStrategy          `json:"asset_strategy"`
	Copy           GeneratedCopy          `json:"generated_copy"`
	Technical      TechnicalConstraints   `json:"technical"`
	DataCollection *DataCollectionContext `json:"data_collection,omitempty"`
}

func (c *ContentContext) Stage() Stage     { return StageContent }
func (c *ContentContext) Campaign() string { return c.CampaignID }

type CampaignMetadata struct {
	Name        string    `json:"name,omitempty"`
	Destination string    `json:"destination"`
	Locale      string    `json:"locale,omitempty"`
	Audience    string    `json:"audience,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type MarketAnalysis struct {
	Destination     string   `json:"destination"`
	Season          string   `json:"season"`
	SeasonDefaulted bool     `json:"season_defaulted,omitempty"`
	DemandLevel     string   `json:"demand_level"`
	KeyInsights     []string `json:"key_insights,omitempty"`
}

// CandidateDate is a proposed send/travel date. Generated dates are
// placeholders for missing input, not recommendations.
type CandidateDate struct {
	Date      time.Time `json:"date"`
	Reason    string    `json:"reason,omitempty"`
	Generated bool      `json:"generated,omitempty"`
}

type DateAnalysis struct {
	Destination       string          `json:"destination"`
	OptimalDates      []CandidateDate `json:"optimal_dates"`
	DatesGenerated    bool            `json:"dates_generated,omitempty"`
	BookingWindowDays int             `json:"booking_window_days,omitempty"`
}

type PricingAnalysis struct {
	BestPrice     float64  `json:"best_price"`
	MinPrice      float64  `json:"min_price"`
	MaxPrice      float64  `json:"max_price"`
	Currency      string   `json:"currency"`
	PriceMissing  bool     `json:"price_missing,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

type AssetStrategy struct {
	VisualStyle    string   `json:"visual_style,omitempty"`
	Mood           string   `json:"mood,omitempty"`
	ImageKeywords  []string `json:"image_keywords,omitempty"`
	RequiredAssets []string `json:"required_assets,omitempty"`
}

type GeneratedCopy struct {
	Subject   string `json:"subject"`
	Preheader string `json:"preheader,omitempty"`
	Headline  string `json:"headline,omitempty"`
	Body      string `json:"body"`
	CTA       string `json:"cta,omitempty"`
}

type TechnicalConstraints struct {
	MaxSubjectLength int      `json:"max_subject_length"`
	MaxWidthPx       int      `json:"max_width_px"`
	SupportedClients []string `json:"supported_clients,omitempty"`
}

// --- design ---

// Layouts available to the design stage.
const (
	LayoutSingleColumn = "single_column"
	LayoutTwoColumn    = "two_column"
	LayoutGrid         = "grid"
	LayoutHero         = "hero"
)

// DesignContext is the output of the design stage.
type DesignContext struct {
	CampaignID         string                 `json:"campaign_id"`
	ContentContext     *ContentContext        `json:"content_context"`
	DataCollection     *DataCollectionContext `json:"data_collection,omitempty"`
	VisualDesign       VisualDesign           `json:"visual_design"`
	AssetManifest      AssetManifest          `json:"asset_manifest"`
	AssetUsage         AssetUsage             `json:"asset_usage"`
	ContentIntegration ContentIntegration     `json:"content_integration"`
	BrandElements      BrandElements          `json:"brand_elements"`
	SupersededFields   []string               `json:"superseded_fields,omitempty"`
}

func (c *DesignContext) Stage() Stage     { return StageDesign }
func (c *DesignContext) Campaign() string { return c.CampaignID }

type ColorPalette struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Accent    string `json:"accent,omitempty"`
}

type VisualDesign struct {
	Palette     ColorPalette `json:"color_palette"`
	HeadingFont string       `json:"heading_font,omitempty"`
	BodyFont    string       `json:"body_font,omitempty"`
	Layout      string       `json:"layout"`
}

type Asset struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Alt    string `json:"alt,omitempty"`
	Role   string `json:"role,omitempty"`
	Source string `json:"source,omitempty"`
}

type AssetManifest struct {
	Images []Asset `json:"images"`
	Icons  []Asset `json:"icons,omitempty"`
}

// All returns images followed by icons.
func (m AssetManifest) All() []Asset {
	out := make([]Asset, 0, len(m.Images)+len(m.Icons))
	out = append(out, m.Images...)
	return append(out, m.Icons...)
}

// AssetUsage is the downstream record of which manifest assets are placed.
type AssetUsage struct {
	ReferencedAssetIDs []string `json:"referenced_asset_ids"`
}

// ContentIntegration records how content fields were placed into the design.
type ContentIntegration struct {
	SubjectLine      string   `json:"subject_line"`
	Preheader        string   `json:"preheader,omitempty"`
	Headline         string   `json:"headline,omitempty"`
	Destination      string   `json:"destination,omitempty"`
	PricingDisplayed bool     `json:"pricing_displayed"`
	DisplayedPrice   float64  `json:"displayed_price,omitempty"`
	DatesDisplayed   []string `json:"dates_displayed,omitempty"`
}

type BrandElements struct {
	PrimaryColor   string `json:"primary_color,omitempty"`
	SecondaryColor string `json:"secondary_color,omitempty"`
	AccentColor    string `json:"accent_color,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	FontFamily     string `json:"font_family,omitempty"`
}

// --- quality ---

// Approval statuses for the quality stage.
const (
	ApprovalApproved     = "approved"
	ApprovalRejected     = "rejected"
	ApprovalNeedsChanges = "needs_changes"
)

// QualityContext is the output of the quality stage.
type QualityContext struct {
	CampaignID          string                      `json:"campaign_id"`
	DesignContext       *DesignContext              `json:"design_context"`
	DataCollection      *DataCollectionContext      `json:"data_collection,omitempty"`
	ValidationSummaries map[Stage]ValidationSummary `json:"validation_summaries,omitempty"`
	Accessibility       Accessibility               `json:"accessibility"`
	RenderingTests      []RenderingTest             `json:"rendering_tests,omitempty"`
	Approval            Approval                    `json:"approval"`
	OverallScore        int                         `json:"overall_score"`
	SupersededFields    []string                    `json:"superseded_fields,omitempty"`
}

func (c *QualityContext) Stage() Stage     { return StageQuality }
func (c *QualityContext) Campaign() string { return c.CampaignID }

// ValidationSummary is the condensed checker verdict for one stage.
type ValidationSummary struct {
	IsComplete     bool `json:"is_complete"`
	QualityScore   int  `json:"quality_score"`
	ViolationCount int  `json:"violation_count"`
}

type Accessibility struct {
	Score     int      `json:"score"`
	WCAGLevel string   `json:"wcag_level,omitempty"`
	Issues    []string `json:"issues,omitempty"`
}

type RenderingTest struct {
	Client string `json:"client"`
	Passed bool   `json:"passed"`
	Notes  string `json:"notes,omitempty"`
}

type Approval struct {
	Status   string `json:"status"`
	Reviewer string `json:"reviewer,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// --- delivery ---

// Delivery channels and statuses.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
	ChannelPush  = "push"

	DeliveryDraft     = "draft"
	DeliveryScheduled = "scheduled"
	DeliverySent      = "sent"
)

// DeliveryContext is the output of the delivery stage.
type DeliveryContext struct {
	CampaignID       string                 `json:"campaign_id"`
	QualityContext   *QualityContext        `json:"quality_context"`
	DataCollection   *DataCollectionContext `json:"data_collection,omitempty"`
	DeliveryPlan     DeliveryPlan           `json:"delivery_plan"`
	FinalAssets      FinalAssets            `json:"final_assets"`
	Tracking         Tracking               `json:"tracking"`
	Status           string                 `json:"status"`
	SupersededFields []string               `json:"superseded_fields,omitempty"`
}

func (c *DeliveryContext) Stage() Stage     { return StageDelivery }
func (c *DeliveryContext) Campaign() string { return c.CampaignID }

type DeliveryPlan struct {
	Channel  string    `json:"channel"`
	SendAt   time.Time `json:"send_at"`
	Timezone string    `json:"timezone,omitempty"`
	Segments []string  `json:"segments,omitempty"`
}

type FinalAssets struct {
	HTMLKey  string   `json:"html_key,omitempty"`
	TextKey  string   `json:"text_key,omitempty"`
	AssetIDs []string `json:"asset_ids,omitempty"`
}

type Tracking struct {
	UTMCampaign string `json:"utm_campaign,omitempty"`
	UTMSource   string `json:"utm_source,omitempty"`
	UTMMedium   string `json:"utm_medium,omitempty"`
}

// DataCollectionOf returns the data collection context threaded through sc,
// or nil.
func DataCollectionOf(sc StageContext) *DataCollectionContext {
	switch c := sc.(type) {
	case *DataCollectionContext:
		return c
	case *ContentContext:
		if c != nil {
			return c.DataCollection
		}
	case *DesignContext:
		if c != nil {
			return c.DataCollection
		}
	case *QualityContext:
		if c != nil {
			return c.DataCollection
		}
	case *DeliveryContext:
		if c != nil {
			return c.DataCollection
		}
	}
	return nil
}

// EmbeddedContent walks the accumulation chain of sc down to its content
// context. It returns nil for stages before content or broken chains.
func EmbeddedContent(sc StageContext) *ContentContext {
	switch c := sc.(type) {
	case *ContentContext:
		return c
	case *DesignContext:
		if c != nil {
			return c.ContentContext
		}
	case *QualityContext, *DeliveryContext:
		if d := EmbeddedDesign(sc); d != nil {
			return d.ContentContext
		}
	}
	return nil
}

// EmbeddedDesign walks the accumulation chain of sc down to its design
// context.
func EmbeddedDesign(sc StageContext) *DesignContext {
	switch c := sc.(type) {
	case *DesignContext:
		return c
	case *QualityContext:
		if c != nil {
			return c.DesignContext
		}
	case *DeliveryContext:
		if c != nil && c.QualityContext != nil {
			return c.QualityContext.DesignContext
		}
	}
	return nil
}

// EmbeddedQuality returns the quality context embedded in a delivery context.
func EmbeddedQuality(sc StageContext) *QualityContext {
	switch c := sc.(type) {
	case *QualityContext:
		return c
	case *DeliveryContext:
		if c != nil {
			return c.QualityContext
		}
	}
	return nil
}

// Superseded returns the fields sc explicitly declares as superseded.
func Superseded(sc StageContext) []string {
	switch c := sc.(type) {
	case *DesignContext:
		if c != nil {
			return c.SupersededFields
		}
	case *QualityContext:
		if c != nil {
			return c.SupersededFields
		}
	case *DeliveryContext:
		if c != nil {
			return c.SupersededFields
		}
	}
	return nil
}

// IsNil reports whether sc is nil or a typed nil pointer.
func IsNil(sc StageContext) bool {
	switch c := sc.(type) {
	case nil:
		return true
	case *DataCollectionContext:
		return c == nil
	case *ContentContext:
		return c == nil
	case *DesignContext:
		return c == nil
	case *QualityContext:
		return c == nil
	case *DeliveryContext:
		return c == nil
	}
	return false
}

// DecodeContext decodes a serialized context of stage.
func DecodeContext(stage Stage, data []byte) (StageContext, error) {
	var sc StageContext
	switch stage {
	case StageDataCollection:
		sc = &DataCollectionContext{}
	case StageContent:
		sc = &ContentContext{}
	case StageDesign:
		sc = &DesignContext{}
	case StageQuality:
		sc = &QualityContext{}
	case StageDelivery:
		sc = &DeliveryContext{}
	default:
		return nil, fmt.Errorf("decode context: unknown stage %q", stage)
	}
	if err := json.Unmarshal(data, sc); err != nil {
		return nil, fmt.Errorf("decode %s context: %w", stage, err)
	}
	return sc, nil
}
