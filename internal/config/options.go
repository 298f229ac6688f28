package config

import (
	"github.com/lucasnoah/campaignflow/internal/checks"
	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/continuity"
	"github.com/lucasnoah/campaignflow/internal/logging"
	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

// BuilderOptions converts the builder section.
func (c *Config) BuilderOptions() appctx.Options {
	return appctx.Options{
		CandidateMonths:  c.Builder.CandidateMonths,
		MaxSubjectLength: c.Builder.MaxSubjectLength,
		MaxWidthPx:       c.Builder.MaxWidthPx,
		DefaultCurrency:  c.Builder.DefaultCurrency,
		DefaultLocale:    c.Builder.DefaultLocale,
		SupportedClients: c.Builder.SupportedClients,
	}
}

// CheckerOptions converts the checker section. Unknown stage names are
// dropped; Validate reports them.
func (c *Config) CheckerOptions() checks.Options {
	required := make(map[pipeline.Stage][]string, len(c.Checker.RequiredArtifacts))
	for name, keys := range c.Checker.RequiredArtifacts {
		stage, err := pipeline.ParseStage(name)
		if err != nil {
			continue
		}
		required[stage] = keys
	}
	return checks.Options{
		MinSubjectLength:   c.Checker.MinSubjectLength,
		MinPreheaderLength: c.Checker.MinPreheaderLength,
		MinBodyLength:      c.Checker.MinBodyLength,
		RequiredArtifacts:  required,
		HardGateScore:      c.Checker.HardGateScore,
		Currencies:         c.Checker.Currencies,
	}
}

// Thresholds converts the continuity section.
func (c *Config) Thresholds() continuity.Thresholds {
	return continuity.Thresholds{
		Continuity:        c.Continuity.ContinuityThreshold,
		Preservation:      c.Continuity.PreservationThreshold,
		AssetUtilization:  c.Continuity.AssetUtilizationThreshold,
		TransitionQuality: c.Continuity.TransitionQualityThreshold,
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}
