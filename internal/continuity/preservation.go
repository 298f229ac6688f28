package continuity

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// brandPenalty is deducted per missing brand element.
const brandPenalty = 25

type tracked[T any] struct {
	path string
	get  func(T) string
}

func price(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

var contentFields = []tracked[*pipeline.ContentContext]{
	{"pricing_analysis.best_price", func(c *pipeline.ContentContext) string { return price(c.Pricing.BestPrice) }},
	{"pricing_analysis.min_price", func(c *pipeline.ContentContext) string { return price(c.Pricing.MinPrice) }},
	{"pricing_analysis.max_price", func(c *pipeline.ContentContext) string { return price(c.Pricing.MaxPrice) }},
	{"pricing_analysis.currency", func(c *pipeline.ContentContext) string { return c.Pricing.Currency }},
	{"date_analysis.optimal_dates", func(c *pipeline.ContentContext) string {
		parts := make([]string, len(c.DateAnalysis.OptimalDates))
		for i, d := range c.DateAnalysis.OptimalDates {
			parts[i] = d.Date.UTC().Format(time.RFC3339)
		}
		return strings.Join(parts, ",")
	}},
	{"campaign.destination", func(c *pipeline.ContentContext) string { return c.Metadata.Destination }},
	{"generated_copy.subject", func(c *pipeline.ContentContext) string { return c.Copy.Subject }},
	{"generated_copy.preheader", func(c *pipeline.ContentContext) string { return c.Copy.Preheader }},
	{"generated_copy.headline", func(c *pipeline.ContentContext) string { return c.Copy.Headline }},
	{"generated_copy.body", func(c *pipeline.ContentContext) string { return c.Copy.Body }},
	{"generated_copy.cta", func(c *pipeline.ContentContext) string { return c.Copy.CTA }},
}

var designFields = []tracked[*pipeline.DesignContext]{
	{"visual_design.color_palette.primary", func(d *pipeline.DesignContext) string { return d.VisualDesign.Palette.Primary }},
	{"visual_design.color_palette.secondary", func(d *pipeline.DesignContext) string { return d.VisualDesign.Palette.Secondary }},
	{"visual_design.color_palette.accent", func(d *pipeline.DesignContext) string { return d.VisualDesign.Palette.Accent }},
	{"visual_design.heading_font", func(d *pipeline.DesignContext) string { return d.VisualDesign.HeadingFont }},
	{"visual_design.body_font", func(d *pipeline.DesignContext) string { return d.VisualDesign.BodyFont }},
	{"visual_design.layout", func(d *pipeline.DesignContext) string { return d.VisualDesign.Layout }},
	{"asset_manifest", func(d *pipeline.DesignContext) string {
		all := d.AssetManifest.All()
		ids := make([]string, len(all))
		for i, a := range all {
			ids[i] = a.ID
		}
		return strings.Join(ids, ",")
	}},
	{"brand_elements.logo_url", func(d *pipeline.DesignContext) string { return d.BrandElements.LogoURL }},
}

// holder is one downstream stage that embeds a copy of a baseline.
type holder[T any] struct {
	stage      pipeline.Stage
	copy       T
	superseded []string
}

// measure compares every tracked field of base against each downstream
// copy. A field counts as preserved when unchanged or explicitly listed as
// superseded by the holder.
func measure[T comparable](name string, base T, holders []holder[T], fields []tracked[T]) Dimension {
	d := Dimension{Name: name}
	var zero T
	if base == zero || len(holders) == 0 {
		return d
	}
	total, kept := 0, 0
	for _, h := range holders {
		for _, f := range fields {
			want := f.get(base)
			if want == "" {
				continue
			}
			total++
			scope := fmt.Sprintf("%s in %s", name, h.stage)
			switch {
			case slices.Contains(h.superseded, f.path):
				kept++
			case h.copy == zero:
				d.Issues = append(d.Issues, Issue{Scope: scope, Field: f.path, Severity: SeverityHigh,
					Message: fmt.Sprintf("%s context is not embedded", name)})
			default:
				got := f.get(h.copy)
				switch {
				case got == want:
					kept++
				case got == "":
					d.Issues = append(d.Issues, Issue{Scope: scope, Field: f.path, Severity: SeverityHigh,
						Message: "field silently disappeared"})
				default:
					d.Issues = append(d.Issues, Issue{Scope: scope, Field: f.path, Severity: SeverityMedium,
						Message: fmt.Sprintf("changed from %q to %q without being superseded", want, got)})
				}
			}
		}
	}
	if total == 0 {
		return d
	}
	d.Measured = true
	d.Score = round(float64(kept) / float64(total) * 100)
	return d
}

func preservation(s *pipeline.WorkflowState) []Dimension {
	c := s.Contexts
	var contentHolders []holder[*pipeline.ContentContext]
	var designHolders []holder[*pipeline.DesignContext]
	if c.Design != nil {
		contentHolders = append(contentHolders, holder[*pipeline.ContentContext]{pipeline.StageDesign, c.Design.ContentContext, c.Design.SupersededFields})
	}
	if c.Quality != nil {
		contentHolders = append(contentHolders, holder[*pipeline.ContentContext]{pipeline.StageQuality, pipeline.EmbeddedContent(c.Quality), c.Quality.SupersededFields})
		designHolders = append(designHolders, holder[*pipeline.DesignContext]{pipeline.StageQuality, c.Quality.DesignContext, c.Quality.SupersededFields})
	}
	if c.Delivery != nil {
		contentHolders = append(contentHolders, holder[*pipeline.ContentContext]{pipeline.StageDelivery, pipeline.EmbeddedContent(c.Delivery), c.Delivery.SupersededFields})
		designHolders = append(designHolders, holder[*pipeline.DesignContext]{pipeline.StageDelivery, pipeline.EmbeddedDesign(c.Delivery), c.Delivery.SupersededFields})
	}

	return []Dimension{
		measure(DimensionContent, c.Content, contentHolders, contentFields),
		measure(DimensionDesign, c.Design, designHolders, designFields),
		assetUtilization(s),
		brand(c.Design),
	}
}

// AssetUtilization is referenced ÷ collected assets × 100, rounded.
// References come from the design's usage record and the delivery's final
// assets. ok is false when the manifest is empty.
func AssetUtilization(d *pipeline.DesignContext, delivery *pipeline.DeliveryContext) (score int, ok bool) {
	used, total := assetCounts(d, delivery)
	if total == 0 {
		return 0, false
	}
	return round(float64(used) / float64(total) * 100), true
}

func assetCounts(d *pipeline.DesignContext, delivery *pipeline.DeliveryContext) (used, total int) {
	if d == nil {
		return 0, 0
	}
	manifest := manifestIDs(d)
	refs := slices.Clone(d.AssetUsage.ReferencedAssetIDs)
	if delivery != nil {
		refs = append(refs, delivery.FinalAssets.AssetIDs...)
	}
	seen := make(map[string]bool)
	for _, id := range refs {
		if manifest[id] && !seen[id] {
			seen[id] = true
			used++
		}
	}
	return used, len(manifest)
}

func assetUtilization(s *pipeline.WorkflowState) Dimension {
	d := Dimension{Name: DimensionAssetUtilization}
	design := s.Contexts.Design
	if design == nil {
		return d
	}
	used, total := assetCounts(design, s.Contexts.Delivery)
	if total == 0 {
		d.Issues = append(d.Issues, Issue{Scope: DimensionAssetUtilization, Field: "asset_manifest",
			Severity: SeverityLow, Message: "asset manifest is empty"})
		return d
	}
	d.Measured = true
	d.Score = round(float64(used) / float64(total) * 100)
	if used < total {
		d.Issues = append(d.Issues, Issue{Scope: DimensionAssetUtilization, Field: "asset_usage.referenced_asset_ids",
			Severity: SeverityLow, Message: fmt.Sprintf("%d of %d collected assets are used downstream", used, total)})
	}
	return d
}

func brand(design *pipeline.DesignContext) Dimension {
	d := Dimension{Name: DimensionBrand}
	if design == nil {
		return d
	}
	d.Measured = true
	d.Score = 100
	b := design.BrandElements
	for _, el := range []struct{ path, v string }{
		{"brand_elements.primary_color", b.PrimaryColor},
		{"brand_elements.secondary_color", b.SecondaryColor},
		{"brand_elements.accent_color", b.AccentColor},
		{"brand_elements.logo_url", b.LogoURL},
	} {
		if el.v == "" {
			d.Score -= brandPenalty
			d.Issues = append(d.Issues, Issue{Scope: DimensionBrand, Field: el.path, Severity: SeverityMedium,
				Message: "brand element missing", Penalty: brandPenalty})
		}
	}
	d.Score = clamp(d.Score)
	return d
}
