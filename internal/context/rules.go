package context

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
	"github.com/lucasnoah/campaignflow/internal/provenance"
)

// FieldRule declares how one context field is filled from raw output.
type FieldRule struct {
	// Path is the field in the built context.
	Path string
	// Input is the dot separated location in the raw document.
	Input     string
	Required  bool
	Normalize Normalizer
	Default   DefaultPolicy
}

type policyKind int

const (
	policyNone policyKind = iota
	policyStructural
	policyDerived
	policyGenerated
	policyCarried
	policyFlagMissing
)

// DefaultPolicy decides what happens when a field's input is absent or
// cannot be normalized. Only structural values are ever substituted;
// business values are either carried from a prior stage or flagged.
type DefaultPolicy struct {
	kind   policyKind
	value  any
	derive func(env *resolution) (any, bool)
}

// NoDefault leaves the field at its zero value.
var NoDefault = DefaultPolicy{}

// FlagMissing sets the field to zero and lists it as missing data, so the
// checker never mistakes the zero for a genuine value.
var FlagMissing = DefaultPolicy{kind: policyFlagMissing}

// Structural substitutes a fixed formatting or configuration value.
func Structural(v any) DefaultPolicy {
	return DefaultPolicy{kind: policyStructural, value: v}
}

// Derived computes a structural value from fields already resolved.
func Derived(fn func(r *resolution) (any, bool)) DefaultPolicy {
	return DefaultPolicy{kind: policyDerived, derive: fn}
}

// Generated produces a tagged placeholder for missing input.
func Generated(fn func(r *resolution) (any, bool)) DefaultPolicy {
	return DefaultPolicy{kind: policyGenerated, derive: fn}
}

// Carried copies the value from the prior stage's context.
func Carried(fn func(r *resolution) (any, bool)) DefaultPolicy {
	return DefaultPolicy{kind: policyCarried, derive: fn}
}

// SameAs derives a field from another field resolved earlier in the table.
func SameAs(path string) DefaultPolicy {
	return Derived(func(r *resolution) (any, bool) {
		v, ok := r.values[path]
		return v, ok
	})
}

func (p DefaultPolicy) source() provenance.Source {
	switch p.kind {
	case policyGenerated:
		return provenance.SourceGenerated
	case policyCarried:
		return provenance.SourceCarried
	case policyFlagMissing:
		return provenance.SourceMissing
	}
	return provenance.SourceDefault
}

// resolution is the outcome of applying a rule table to one raw document.
type resolution struct {
	campaign string
	stage    pipeline.Stage
	now      time.Time
	opts     Options
	prior    pipeline.StageContext
	sink     provenance.Sink

	values  map[string]any
	sources map[string]provenance.Source
	missing []pipeline.FieldIssue // hard-required input absent
	flagged []string              // unusable input coerced to zero
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func (r *resolution) record(path string, src provenance.Source, detail string) {
	r.sources[path] = src
	r.sink.Record(provenance.Event{
		Campaign: r.campaign,
		Stage:    r.stage,
		Path:     path,
		Source:   src,
		Detail:   detail,
	})
}

// apply resolves every rule in order; later rules may derive from earlier
// ones.
func (r *resolution) apply(rules []FieldRule, doc map[string]any) {
	for _, rule := range rules {
		raw, present := lookup(doc, rule.Input)
		if present {
			if v, ok := rule.Normalize(raw); ok {
				r.values[rule.Path] = v
				r.record(rule.Path, provenance.SourceRaw, "")
				continue
			}
		}

		detail := "input absent"
		if present {
			detail = fmt.Sprintf("input %v could not be normalized", raw)
		}

		switch {
		case rule.Default.kind == policyFlagMissing && (present || !rule.Required):
			r.flagged = append(r.flagged, rule.Path)
			r.record(rule.Path, provenance.SourceMissing, detail)
			continue
		case rule.Required && (rule.Default.kind == policyNone || rule.Default.kind == policyFlagMissing):
			r.missing = append(r.missing, pipeline.FieldIssue{Path: rule.Input, Reason: detail})
			continue
		}

		var (
			v  any
			ok bool
		)
		switch rule.Default.kind {
		case policyStructural:
			v, ok = rule.Default.value, true
		case policyDerived, policyGenerated, policyCarried:
			v, ok = rule.Default.derive(r)
		}
		if !ok {
			if rule.Required {
				r.missing = append(r.missing, pipeline.FieldIssue{Path: rule.Input, Reason: detail})
			}
			continue
		}
		r.values[rule.Path] = v
		r.record(rule.Path, rule.Default.source(), detail)
	}
}

func (r *resolution) str(path string) string {
	s, _ := r.values[path].(string)
	return s
}

func (r *resolution) float(path string) float64 {
	f, _ := r.values[path].(float64)
	return f
}

func (r *resolution) integer(path string) int {
	n, _ := r.values[path].(int)
	return n
}

func (r *resolution) boolean(path string) bool {
	b, _ := r.values[path].(bool)
	return b
}

func (r *resolution) list(path string) []string {
	s, _ := r.values[path].([]string)
	return s
}

func (r *resolution) timestamp(path string) time.Time {
	t, _ := r.values[path].(time.Time)
	return t
}

func (r *resolution) isFlagged(path string) bool {
	for _, f := range r.flagged {
		if f == path {
			return true
		}
	}
	return false
}

func (r *resolution) sourceOf(path string) provenance.Source {
	return r.sources[path]
}
