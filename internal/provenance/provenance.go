// Package provenance records where each context field came from.
//
// A Sink is passed explicitly into every builder and checker run, so
// concurrent campaigns never share provenance state.
package provenance

import (
	"sync"

	"go.uber.org/zap"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// Source classifies the origin of a field value.
type Source string

const (
	SourceRaw       Source = "raw"       // supplied by the stage collaborator
	SourceArtifact  Source = "artifact"  // read from an upstream artifact
	SourceCarried   Source = "carried"   // copied from a prior context
	SourceDefault   Source = "default"   // structural default, no input matched
	SourceGenerated Source = "generated" // placeholder derived for missing input
	SourceCoerced   Source = "coerced"   // input normalized into the field's type
	SourceMissing   Source = "missing"   // input unusable; flagged for the checker
)

// Event is one provenance record.
type Event struct {
	Campaign string         `json:"campaign"`
	Stage    pipeline.Stage `json:"stage"`
	Path     string         `json:"path"`
	Source   Source         `json:"source"`
	Detail   string         `json:"detail,omitempty"`
}

// Sink receives provenance events.
type Sink interface {
	Record(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

// LogSink writes events through a zap logger. Defaults and generated values
// are logged at warn so they are never indistinguishable from real input.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Record(e Event) {
	if s.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("campaign", e.Campaign),
		zap.String("stage", string(e.Stage)),
		zap.String("path", e.Path),
		zap.String("source", string(e.Source)),
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	switch e.Source {
	case SourceDefault, SourceGenerated, SourceMissing:
		s.Logger.Warn("field provenance", fields...)
	default:
		s.Logger.Debug("field provenance", fields...)
	}
}

// Recorder keeps events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// BySource returns the paths recorded with the given source.
func (r *Recorder) BySource(src Source) []string {
	var paths []string
	for _, e := range r.Events() {
		if e.Source == src {
			paths = append(paths, e.Path)
		}
	}
	return paths
}

// Multi fans events out to several sinks.
type Multi []Sink

func (m Multi) Record(e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// OrNop returns s, or Nop when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}
