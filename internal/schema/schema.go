// Package schema holds the structural contracts for every stage context and
// for the handoff envelope.
//
// Stage contexts are described by FieldSpec tables. Each field declares
// whether it is required, whether its absence is tolerated as a
// backward-compatibility warning, and which kind, enum domain or numeric
// range it must satisfy. The envelope is described in CUE (envelope.cue).
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Kind is the JSON shape a field must have.
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindInt
	KindBool
	KindObject
	KindArray
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindTime:
		return "RFC 3339 timestamp"
	}
	return "any"
}

// FieldSpec declares the contract of one field. Path is dot separated and
// a segment suffixed with "[]" applies the rest of the path to every
// element of that array.
type FieldSpec struct {
	Path     string
	Kind     Kind
	Required bool
	// Compat marks an optional analytical field whose absence is reported
	// as a warning instead of being silently ignored.
	Compat bool
	Enum   []string
	Min    *float64
	Max    *float64
}

// Schema is a named list of field contracts.
type Schema struct {
	Key    string
	Fields []FieldSpec
}

// Severity separates blocking errors from compatibility warnings.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is one schema finding.
type Issue struct {
	Path     string   `json:"path"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Outcome is the result of validating a payload against a schema.
type Outcome struct {
	OK       bool    `json:"ok"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Err converts the critical issues of o into a StructuralValidationError,
// or returns nil when o is OK.
func (o Outcome) Err(schemaKey string) error {
	if o.OK {
		return nil
	}
	issues := make([]pipeline.FieldIssue, len(o.Errors))
	for i, e := range o.Errors {
		issues[i] = pipeline.FieldIssue{Path: e.Path, Reason: e.Reason}
	}
	return &pipeline.StructuralValidationError{Schema: schemaKey, Issues: issues}
}

func (o *Outcome) add(is Issue) {
	if is.Severity == SeverityWarning {
		o.Warnings = append(o.Warnings, is)
		return
	}
	o.Errors = append(o.Errors, is)
}

// Check validates payload against s. The payload is re-encoded to a generic
// document first, so the caller's value is never touched.
func (s Schema) Check(payload any) (Outcome, error) {
	doc, err := toDocument(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode payload for %s: %w", s.Key, err)
	}
	var out Outcome
	for _, f := range s.Fields {
		for _, h := range resolve(doc, strings.Split(f.Path, "."), "") {
			if is, bad := checkField(f, h); bad {
				out.add(is)
			}
		}
	}
	out.OK = len(out.Errors) == 0
	return out, nil
}

func toDocument(payload any) (any, error) {
	raw, err := encode(payload)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

type hit struct {
	path    string
	value   any
	present bool
}

func join(prefix, seg string) string {
	if prefix == "" {
		return seg
	}
	return prefix + "." + seg
}

// resolve walks segs through node. An absent parent yields a single
// non-present hit for the whole remaining path. An absent or empty array
// yields none; the array's own spec governs its presence.
func resolve(node any, segs []string, prefix string) []hit {
	if len(segs) == 0 {
		return []hit{{path: prefix, value: node, present: node != nil}}
	}
	seg := segs[0]
	name, iterate := strings.CutSuffix(seg, "[]")

	obj, _ := node.(map[string]any)
	child, ok := obj[name]
	if !ok || child == nil {
		if iterate {
			return nil
		}
		rest := strings.ReplaceAll(strings.Join(segs, "."), "[]", "")
		return []hit{{path: join(prefix, rest)}}
	}
	if !iterate {
		return resolve(child, segs[1:], join(prefix, name))
	}
	arr, ok := child.([]any)
	if !ok {
		// Wrong kind for an iterated segment; report it at the array itself.
		return []hit{{path: join(prefix, name), value: child, present: true}}
	}
	var hits []hit
	for i, el := range arr {
		hits = append(hits, resolve(el, segs[1:], fmt.Sprintf("%s[%d]", join(prefix, name), i))...)
	}
	return hits
}

func checkField(f FieldSpec, h hit) (Issue, bool) {
	if !h.present || isBlank(f, h.value) {
		switch {
		case f.Required:
			return Issue{Path: h.path, Reason: "required field missing", Severity: SeverityCritical}, true
		case f.Compat:
			return Issue{Path: h.path, Reason: "optional field absent", Severity: SeverityWarning}, true
		}
		return Issue{}, false
	}
	if !kindMatches(f.Kind, h.value) {
		return Issue{Path: h.path, Reason: fmt.Sprintf("expected %s", f.Kind), Severity: SeverityCritical}, true
	}
	if len(f.Enum) > 0 {
		s, _ := h.value.(string)
		if !contains(f.Enum, s) {
			return Issue{Path: h.path, Reason: fmt.Sprintf("%q not one of %s", s, strings.Join(f.Enum, ", ")), Severity: SeverityCritical}, true
		}
	}
	if n, ok := h.value.(float64); ok {
		if f.Min != nil && n < *f.Min {
			return Issue{Path: h.path, Reason: fmt.Sprintf("%v below minimum %v", n, *f.Min), Severity: SeverityCritical}, true
		}
		if f.Max != nil && n > *f.Max {
			return Issue{Path: h.path, Reason: fmt.Sprintf("%v above maximum %v", n, *f.Max), Severity: SeverityCritical}, true
		}
	}
	return Issue{}, false
}

// isBlank treats an empty string as absent for required string fields.
func isBlank(f FieldSpec, v any) bool {
	s, ok := v.(string)
	return ok && f.Kind == KindString && strings.TrimSpace(s) == ""
}

func kindMatches(k Kind, v any) bool {
	switch k {
	case KindString:
		_, ok := v.(string)
		return ok
	case KindNumber:
		_, ok := v.(float64)
		return ok
	case KindInt:
		n, ok := v.(float64)
		return ok && n == math.Trunc(n)
	case KindBool:
		_, ok := v.(bool)
		return ok
	case KindObject:
		_, ok := v.(map[string]any)
		return ok
	case KindArray:
		_, ok := v.([]any)
		return ok
	case KindTime:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339Nano, s)
		return err == nil
	}
	return true
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func bound(v float64) *float64 { return &v }
