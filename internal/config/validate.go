package config

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/lucasnoah/campaignflow/internal/logging"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedBackends is the set of valid storage backends.
var recognizedBackends = map[string]bool{
	"memory":   true,
	"file":     true,
	"sqlite":   true,
	"postgres": true,
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	s := cfg.Storage
	if !recognizedBackends[s.Backend] {
		add("storage.backend", "unrecognized backend %q", s.Backend)
	}
	if s.Backend == "postgres" && s.DSN == "" {
		add("storage.dsn", "is required for the postgres backend")
	}

	b := cfg.Builder
	if b.CandidateMonths < 1 || b.CandidateMonths > 24 {
		add("builder.candidate_months", "must be between 1 and 24, got %d", b.CandidateMonths)
	}
	if b.MaxSubjectLength < 1 {
		add("builder.max_subject_length", "must be positive")
	}
	if b.MaxWidthPx < 1 {
		add("builder.max_width_px", "must be positive")
	}
	if !currencyPattern.MatchString(b.DefaultCurrency) {
		add("builder.default_currency", "must be a three-letter ISO code, got %q", b.DefaultCurrency)
	}

	c := cfg.Checker
	for _, l := range []struct {
		field string
		v     int
	}{
		{"checker.min_subject_length", c.MinSubjectLength},
		{"checker.min_preheader_length", c.MinPreheaderLength},
		{"checker.min_body_length", c.MinBodyLength},
	} {
		if l.v < 0 {
			add(l.field, "must not be negative")
		}
	}
	if c.HardGateScore < 0 || c.HardGateScore > 100 {
		add("checker.hard_gate_score", "must be between 0 and 100, got %d", c.HardGateScore)
	}
	for i, cur := range c.Currencies {
		if !currencyPattern.MatchString(cur) {
			add(fmt.Sprintf("checker.currencies[%d]", i), "must be a three-letter ISO code, got %q", cur)
		}
	}
	stages := make([]string, 0, len(c.RequiredArtifacts))
	for stage := range c.RequiredArtifacts {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		if _, err := pipeline.ParseStage(stage); err != nil {
			add("checker.required_artifacts."+stage, "unknown stage %q", stage)
		}
	}

	th := cfg.Continuity
	for _, t := range []struct {
		field string
		v     int
	}{
		{"continuity.continuity_threshold", th.ContinuityThreshold},
		{"continuity.preservation_threshold", th.PreservationThreshold},
		{"continuity.asset_utilization_threshold", th.AssetUtilizationThreshold},
		{"continuity.transition_quality_threshold", th.TransitionQualityThreshold},
	} {
		if t.v < 0 || t.v > 100 {
			add(t.field, "must be between 0 and 100, got %d", t.v)
		}
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level", "unrecognized level %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		add("logging.format", "must be json or console, got %q", cfg.Logging.Format)
	}

	return errs
}
