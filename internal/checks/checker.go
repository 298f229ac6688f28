// Package checks implements the consistency and dependency checker that
// decides whether a built stage context may be handed off.
package checks

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/provenance"
	"github.com/lucasnoah/campaignflow/internal/schema"
)

// Class groups violations that share a penalty.
type Class string

const (
	ClassMissingField    Class = "missing_field"
	ClassStructural      Class = "structural"
	ClassPlaceholder     Class = "placeholder"
	ClassConsistency     Class = "consistency"
	ClassMissingArtifact Class = "missing_artifact"
	ClassShortText       Class = "short_text"
	ClassSoft            Class = "soft"
)

// Penalties per violation class. Blocking classes make a context
// incomplete; the others only lower its score.
var Penalties = map[Class]int{
	ClassMissingField:    20,
	ClassStructural:      20,
	ClassPlaceholder:     15,
	ClassConsistency:     25,
	ClassMissingArtifact: 10,
	ClassShortText:       5,
	ClassSoft:            2,
}

// Blocking reports whether violations of c prevent a handoff.
func (c Class) Blocking() bool {
	switch c {
	case ClassShortText, ClassSoft:
		return false
	}
	return true
}

// Violation is one finding of the checker.
type Violation struct {
	Class   Class  `json:"class"`
	Path    string `json:"path"`
	Message string `json:"message"`
	Penalty int    `json:"penalty"`
}

// Result is the validation result of one stage context.
type Result struct {
	Stage         pipeline.Stage `json:"stage"`
	IsComplete    bool           `json:"is_complete"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
	Violations    []Violation    `json:"violations,omitempty"`
	QualityScore  int            `json:"quality_score"`
}

// Summary condenses r for recording in the quality context.
func (r Result) Summary() pipeline.ValidationSummary {
	return pipeline.ValidationSummary{
		IsComplete:     r.IsComplete,
		QualityScore:   r.QualityScore,
		ViolationCount: len(r.Violations),
	}
}

// Options configures thresholds and dependencies.
type Options struct {
	MinSubjectLength   int
	MinPreheaderLength int
	MinBodyLength      int
	// RequiredArtifacts lists, per stage, artifact names or key templates
	// containing "{campaign}".
	RequiredArtifacts map[pipeline.Stage][]string
	// HardGateScore, when positive, makes a lower quality score blocking.
	HardGateScore int
	Currencies    []string
}

// DefaultOptions returns the documented thresholds.
func DefaultOptions() Options {
	return Options{
		MinSubjectLength:   10,
		MinPreheaderLength: 20,
		MinBodyLength:      50,
		RequiredArtifacts: map[pipeline.Stage][]string{
			pipeline.StageContent:  {"destination-analysis", "market-intelligence"},
			pipeline.StageDesign:   {"{campaign}/content-context"},
			pipeline.StageQuality:  {"{campaign}/design-context"},
			pipeline.StageDelivery: {"{campaign}/quality-context"},
		},
		Currencies: []string{"USD", "EUR", "GBP", "CHF", "JPY", "CAD", "AUD", "NZD", "SEK", "NOK", "DKK", "PLN", "CZK", "MXN", "BRL", "ZAR", "AED", "SGD", "HKD"},
	}
}

// Checker runs structural, consistency and dependency checks. It holds no
// mutable state; the same input always yields the same Result.
type Checker struct {
	registry *schema.Registry
	opts     Options
	now      func() time.Time
}

// New creates a Checker.
func New(registry *schema.Registry, opts Options) *Checker {
	return &Checker{registry: registry, opts: opts, now: time.Now}
}

// WithClock returns a copy of c that reads the time from now.
func (c *Checker) WithClock(now func() time.Time) *Checker {
	cp := *c
	cp.now = now
	return &cp
}

// Options returns the checker's configuration.
func (c *Checker) Options() Options {
	return c.opts
}

// CheckOpts carries per-run inputs.
type CheckOpts struct {
	// Available holds the dependency keys known to exist; see
	// RequiredKeys and ResolveAvailable.
	Available map[string]bool
	Sink      provenance.Sink
}

type run struct {
	c        *Checker
	campaign string
	stage    pipeline.Stage
	now      time.Time
	sink     provenance.Sink
	res      Result
}

func (r *run) add(class Class, path, msg string) {
	r.res.Violations = append(r.res.Violations, Violation{Class: class, Path: path, Message: msg, Penalty: Penalties[class]})
	if class.Blocking() {
		r.sink.Record(provenance.Event{Campaign: r.campaign, Stage: r.stage, Path: path, Source: provenance.SourceMissing, Detail: msg})
	}
}

func (r *run) warn(msg string) {
	r.res.Warnings = append(r.res.Warnings, msg)
}

// Check validates sc as the context of stage.
func (c *Checker) Check(sc pipeline.StageContext, stage pipeline.Stage, opts CheckOpts) Result {
	r := &run{c: c, stage: stage, now: c.now(), sink: provenance.OrNop(opts.Sink)}
	r.res.Stage = stage

	switch {
	case pipeline.IsNil(sc):
		r.res.MissingFields = append(r.res.MissingFields, "$")
		r.add(ClassMissingField, "$", "context is missing")
	case sc.Stage() != stage:
		r.add(ClassStructural, "$", fmt.Sprintf("context is for stage %s, not %s", sc.Stage(), stage))
	default:
		r.campaign = sc.Campaign()
		r.structural(sc)
		switch v := sc.(type) {
		case *pipeline.DataCollectionContext:
			r.dataCollection(v)
		case *pipeline.ContentContext:
			r.content(v)
		case *pipeline.DesignContext:
			r.design(v)
		case *pipeline.QualityContext:
			r.quality(v)
		case *pipeline.DeliveryContext:
			r.delivery(v)
		}
		r.dependencies(opts.Available)
	}

	score := 100
	complete := true
	for _, v := range r.res.Violations {
		score -= v.Penalty
		if v.Class.Blocking() {
			complete = false
		}
	}
	r.res.QualityScore = min(max(score, 0), 100)
	r.res.IsComplete = complete
	return r.res
}

func (r *run) structural(sc pipeline.StageContext) {
	out, err := r.c.registry.ValidateContext(sc)
	if err != nil {
		r.add(ClassStructural, "$", err.Error())
		return
	}
	for _, is := range out.Errors {
		if is.Reason == "required field missing" {
			r.res.MissingFields = append(r.res.MissingFields, is.Path)
			r.add(ClassMissingField, is.Path, is.Reason)
			continue
		}
		r.add(ClassStructural, is.Path, is.Reason)
	}
	for _, is := range out.Warnings {
		r.warn(fmt.Sprintf("%s: %s", is.Path, is.Reason))
	}
}

func fold(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// disagree reports whether two non-empty names differ.
func disagree(a, b string) bool {
	return a != "" && b != "" && fold(a) != fold(b)
}

var localePattern = regexp.MustCompile(`^[a-z]{2,3}(?:[-_][A-Za-z]{2,4})?$`)

func (r *run) dataCollection(dc *pipeline.DataCollectionContext) {
	if dc.CollectionStatus == pipeline.CollectionFailed {
		r.warn("data collection failed: downstream stages run without upstream research")
	}
}

func (r *run) content(c *pipeline.ContentContext) {
	dest := c.Metadata.Destination
	if disagree(dest, c.MarketAnalysis.Destination) {
		r.add(ClassConsistency, "market_analysis.destination",
			fmt.Sprintf("destination %q does not match campaign destination %q", c.MarketAnalysis.Destination, dest))
	}
	if disagree(c.MarketAnalysis.Destination, c.DateAnalysis.Destination) {
		r.add(ClassConsistency, "date_analysis.destination",
			fmt.Sprintf("destination %q does not match market analysis destination %q", c.DateAnalysis.Destination, c.MarketAnalysis.Destination))
	}
	if c.DataCollection != nil && disagree(dest, c.DataCollection.Destination) {
		r.add(ClassConsistency, "data_collection.destination",
			fmt.Sprintf("collected data is for %q, campaign targets %q", c.DataCollection.Destination, dest))
	}
	if c.Metadata.Locale != "" && !localePattern.MatchString(c.Metadata.Locale) {
		r.add(ClassSoft, "campaign.locale", fmt.Sprintf("locale %q is not a language tag", c.Metadata.Locale))
	}

	r.pricing(c.Pricing)
	r.dates(c.DateAnalysis)

	if c.MarketAnalysis.SeasonDefaulted {
		r.add(ClassSoft, "market_analysis.season", "season defaulted to year_round: no keyword matched")
	}

	r.length("generated_copy.subject", c.Copy.Subject, r.c.opts.MinSubjectLength)
	r.length("generated_copy.preheader", c.Copy.Preheader, r.c.opts.MinPreheaderLength)
	r.length("generated_copy.body", c.Copy.Body, r.c.opts.MinBodyLength)
	if limit := c.Technical.MaxSubjectLength; limit > 0 && len([]rune(c.Copy.Subject)) > limit {
		r.add(ClassSoft, "generated_copy.subject", fmt.Sprintf("subject exceeds %d characters", limit))
	}
	r.placeholders(map[string]string{
		"generated_copy.subject":   c.Copy.Subject,
		"generated_copy.preheader": c.Copy.Preheader,
		"generated_copy.headline":  c.Copy.Headline,
		"generated_copy.body":      c.Copy.Body,
		"generated_copy.cta":       c.Copy.CTA,
	})
}

func (r *run) pricing(p pipeline.PricingAnalysis) {
	for _, f := range p.MissingFields {
		r.res.MissingFields = append(r.res.MissingFields, f)
		r.add(ClassMissingField, f, "price could not be read from input")
	}
	if p.BestPrice == 0 && p.MinPrice == 0 && p.MaxPrice == 0 {
		r.add(ClassConsistency, "pricing_analysis", "all pricing values are zero")
		return
	}
	flagged := make(map[string]bool, len(p.MissingFields))
	for _, f := range p.MissingFields {
		flagged[f] = true
	}
	if !flagged["pricing_analysis.min_price"] && !flagged["pricing_analysis.best_price"] && p.MinPrice > p.BestPrice {
		r.add(ClassConsistency, "pricing_analysis.min_price",
			fmt.Sprintf("min price %.2f exceeds best price %.2f", p.MinPrice, p.BestPrice))
	}
	if !flagged["pricing_analysis.max_price"] && !flagged["pricing_analysis.best_price"] && p.BestPrice > p.MaxPrice {
		r.add(ClassConsistency, "pricing_analysis.max_price",
			fmt.Sprintf("best price %.2f exceeds max price %.2f", p.BestPrice, p.MaxPrice))
	}
	if p.Currency != "" && !slices.Contains(r.c.opts.Currencies, p.Currency) {
		r.add(ClassSoft, "pricing_analysis.currency", fmt.Sprintf("unusual currency code %q", p.Currency))
	}
}

func (r *run) dates(d pipeline.DateAnalysis) {
	if len(d.OptimalDates) == 0 {
		return // reported by the schema
	}
	future := false
	for _, cd := range d.OptimalDates {
		if cd.Date.After(r.now) {
			future = true
			break
		}
	}
	if !future {
		r.add(ClassConsistency, "date_analysis.optimal_dates", "no optimal date is in the future")
	}
	if d.DatesGenerated {
		r.add(ClassSoft, "date_analysis.optimal_dates", "dates are generated placeholders, not recommendations")
	}
}

func (r *run) length(path, text string, minLen int) {
	if minLen <= 0 {
		return
	}
	if n := len([]rune(strings.TrimSpace(text))); n < minLen {
		r.add(ClassShortText, path, fmt.Sprintf("too short: %d characters, minimum %d", n, minLen))
	}
}

// placeholders checks fields in a fixed order so results are reproducible.
func (r *run) placeholders(fields map[string]string) {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		for _, m := range Placeholders(fields[p]) {
			r.add(ClassPlaceholder, p, "placeholder marker: "+m)
		}
	}
}

func (r *run) design(d *pipeline.DesignContext) {
	content := d.ContentContext
	if content != nil {
		if disagree(d.CampaignID, content.CampaignID) {
			r.add(ClassConsistency, "content_context.campaign_id", "embedded content belongs to another campaign")
		}
		if disagree(d.ContentIntegration.Destination, content.Metadata.Destination) {
			r.add(ClassConsistency, "content_integration.destination",
				fmt.Sprintf("design names %q, content targets %q", d.ContentIntegration.Destination, content.Metadata.Destination))
		}
		if d.ContentIntegration.PricingDisplayed && d.ContentIntegration.DisplayedPrice > 0 &&
			d.ContentIntegration.DisplayedPrice != content.Pricing.BestPrice {
			r.add(ClassConsistency, "content_integration.displayed_price",
				fmt.Sprintf("displayed price %.2f differs from best price %.2f", d.ContentIntegration.DisplayedPrice, content.Pricing.BestPrice))
		}
	}

	manifest := make(map[string]bool)
	for _, a := range d.AssetManifest.All() {
		manifest[a.ID] = true
	}
	for _, id := range d.AssetUsage.ReferencedAssetIDs {
		if !manifest[id] {
			r.add(ClassConsistency, "asset_usage.referenced_asset_ids", fmt.Sprintf("asset %q is not in the manifest", id))
		}
	}
	for i, a := range d.AssetManifest.Images {
		if a.Alt == "" {
			r.add(ClassSoft, fmt.Sprintf("asset_manifest.images[%d].alt", i), "image has no alt text")
		}
	}

	b := d.BrandElements
	for _, f := range []struct{ path, v string }{
		{"brand_elements.primary_color", b.PrimaryColor},
		{"brand_elements.logo_url", b.LogoURL},
	} {
		if f.v == "" {
			r.add(ClassSoft, f.path, "brand element missing")
		}
	}

	r.placeholders(map[string]string{
		"content_integration.subject_line": d.ContentIntegration.SubjectLine,
		"content_integration.preheader":    d.ContentIntegration.Preheader,
		"content_integration.headline":     d.ContentIntegration.Headline,
	})
}

func (r *run) quality(q *pipeline.QualityContext) {
	switch q.Approval.Status {
	case pipeline.ApprovalRejected:
		r.add(ClassConsistency, "approval.status", "campaign was rejected in review")
	case pipeline.ApprovalNeedsChanges:
		r.add(ClassConsistency, "approval.status", "review requested changes")
	}
	for i, t := range q.RenderingTests {
		if !t.Passed {
			r.add(ClassSoft, fmt.Sprintf("rendering_tests[%d]", i), fmt.Sprintf("rendering failed in %s", t.Client))
		}
	}
	if q.Accessibility.Score > 0 && q.Accessibility.Score < 50 {
		r.add(ClassSoft, "accessibility.score", fmt.Sprintf("accessibility score %d is low", q.Accessibility.Score))
	}
	if q.DesignContext != nil && disagree(q.CampaignID, q.DesignContext.CampaignID) {
		r.add(ClassConsistency, "design_context.campaign_id", "embedded design belongs to another campaign")
	}
}

func (r *run) delivery(d *pipeline.DeliveryContext) {
	if q := d.QualityContext; q != nil {
		if q.Approval.Status != pipeline.ApprovalApproved {
			r.add(ClassConsistency, "quality_context.approval.status", "delivery requires an approved quality review")
		}
		if disagree(d.CampaignID, q.CampaignID) {
			r.add(ClassConsistency, "quality_context.campaign_id", "embedded quality belongs to another campaign")
		}
	}
	if design := pipeline.EmbeddedDesign(d); design != nil {
		manifest := make(map[string]bool)
		for _, a := range design.AssetManifest.All() {
			manifest[a.ID] = true
		}
		for _, id := range d.FinalAssets.AssetIDs {
			if !manifest[id] {
				r.add(ClassConsistency, "final_assets.asset_ids", fmt.Sprintf("asset %q is not in the design manifest", id))
			}
		}
	}
	if d.Status == pipeline.DeliveryScheduled && !d.DeliveryPlan.SendAt.After(r.now) {
		r.add(ClassConsistency, "delivery_plan.send_at", "scheduled send time is in the past")
	}
	if d.Tracking.UTMCampaign == "" {
		r.add(ClassSoft, "tracking.utm_campaign", "no utm_campaign set")
	}
}

func (r *run) dependencies(available map[string]bool) {
	for _, key := range r.c.RequiredKeys(r.stage, r.campaign) {
		if !available[key] {
			r.add(ClassMissingArtifact, "artifacts/"+artifactName(r.campaign, key), fmt.Sprintf("required upstream artifact %s not found", key))
		}
	}
}

