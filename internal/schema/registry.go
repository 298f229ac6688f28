package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

//go:embed envelope.cue
var envelopeCUE string

// Registry resolves schema keys to their contracts.
type Registry struct {
	schemas map[string]Schema

	// cue.Context is not safe for concurrent use.
	mu       sync.Mutex
	cuectx   *cue.Context
	envelope cue.Value
}

// New compiles the envelope definition and registers every stage schema.
func New() (*Registry, error) {
	cuectx := cuecontext.New()
	root := cuectx.CompileString(envelopeCUE, cue.Filename("envelope.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	env := root.LookupPath(cue.ParsePath("#Envelope"))
	if !env.Exists() {
		return nil, fmt.Errorf("envelope schema: #Envelope not defined")
	}
	r := &Registry{
		schemas:  make(map[string]Schema),
		cuectx:   cuectx,
		envelope: env,
	}
	for _, s := range []Schema{dataCollectionSchema, contentSchema, designSchema, qualitySchema, deliverySchema} {
		r.schemas[s.Key] = s
	}
	return r, nil
}

// MustNew is New for package-level wiring and tests.
func MustNew() *Registry {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Schema returns the table-driven schema registered under key.
func (r *Registry) Schema(key string) (Schema, bool) {
	s, ok := r.schemas[key]
	return s, ok
}

// Keys lists every registered key, envelope included.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.schemas)+1)
	for k := range r.schemas {
		keys = append(keys, k)
	}
	keys = append(keys, KeyEnvelope)
	sort.Strings(keys)
	return keys
}

// Validate checks payload against the schema named key. The returned error
// is reserved for unknown keys and payloads that cannot be encoded; contract
// violations are reported in the Outcome.
func (r *Registry) Validate(payload any, key string) (Outcome, error) {
	if key == KeyEnvelope {
		return r.validateEnvelope(payload)
	}
	s, ok := r.schemas[key]
	if !ok {
		return Outcome{}, fmt.Errorf("unknown schema %q", key)
	}
	return s.Check(payload)
}

// ValidateContext checks sc against the schema of its own stage.
func (r *Registry) ValidateContext(sc pipeline.StageContext) (Outcome, error) {
	if pipeline.IsNil(sc) {
		return Outcome{Errors: []Issue{{Path: "$", Reason: "context is nil", Severity: SeverityCritical}}}, nil
	}
	return r.Validate(sc, KeyFor(sc.Stage()))
}

func (r *Registry) validateEnvelope(payload any) (Outcome, error) {
	raw, err := encode(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode envelope: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.cuectx.CompileBytes(raw, cue.Filename("envelope.json"))
	if err := data.Err(); err != nil {
		return Outcome{}, fmt.Errorf("decode envelope: %w", err)
	}
	// CUE stops reporting incomplete fields once a document has other
	// conflicts, so required fields are checked against the definition.
	var missing []string
	missingFields(r.envelope, data, "", &missing)

	byPath := make(map[string][]string)
	var order []string
	for _, p := range missing {
		byPath[p] = []string{"required field missing"}
		order = append(order, p)
	}
	unified := r.envelope.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			path := cuePath(e.Path())
			if slices.Contains(missing, path) {
				continue
			}
			if _, ok := byPath[path]; !ok {
				order = append(order, path)
			}
			format, args := e.Msg()
			byPath[path] = append(byPath[path], fmt.Sprintf(format, args...))
		}
	}

	var out Outcome
	for _, path := range order {
		out.add(Issue{Path: path, Reason: pickReason(byPath[path]), Severity: SeverityCritical})
	}
	out.OK = len(out.Errors) == 0
	return out, nil
}

// missingFields appends the paths of required definition fields that doc
// lacks, descending into nested structs.
func missingFields(def, doc cue.Value, prefix string, missing *[]string) {
	it, err := def.Fields()
	if err != nil {
		return
	}
	for it.Next() {
		sel := it.Selector()
		path := join(prefix, sel.String())
		got := doc.LookupPath(cue.MakePath(sel))
		if !got.Exists() {
			*missing = append(*missing, path)
			continue
		}
		if it.Value().IncompleteKind() == cue.StructKind && got.Kind() == cue.StructKind {
			missingFields(it.Value(), got, path, missing)
		}
	}
}

// pickReason collapses the messages reported for one path. A failed
// disjunction yields one message per branch plus a summary; the summary
// is kept.
func pickReason(msgs []string) string {
	for _, m := range msgs {
		if strings.Contains(m, "disjunction") {
			return m
		}
	}
	return msgs[0]
}

func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(payload)
}

// cuePath drops definition selectors so paths read like the JSON document.
func cuePath(sel []string) string {
	var parts []string
	for _, s := range sel {
		if strings.HasPrefix(s, "#") {
			continue
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return "$"
	}
	return strings.Join(parts, ".")
}
