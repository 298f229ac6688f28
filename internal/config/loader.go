package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/lucasnoah/campaignflow/internal/checks"
	appctx "github.com/lucasnoah/campaignflow/internal/context"
	"github.com/lucasnoah/campaignflow/internal/continuity"
)

// EnvPrefix marks environment variables that override file settings.
const EnvPrefix = "CAMPAIGNFLOW_"

// Default returns the configuration used when nothing is set.
func Default() *Config {
	b := appctx.DefaultOptions()
	c := checks.DefaultOptions()
	th := continuity.DefaultThresholds()

	required := make(map[string][]string, len(c.RequiredArtifacts))
	for stage, names := range c.RequiredArtifacts {
		required[string(stage)] = append([]string(nil), names...)
	}
	return &Config{
		Storage: Storage{Backend: "file"},
		Builder: Builder{
			CandidateMonths:  b.CandidateMonths,
			MaxSubjectLength: b.MaxSubjectLength,
			MaxWidthPx:       b.MaxWidthPx,
			DefaultCurrency:  b.DefaultCurrency,
			DefaultLocale:    b.DefaultLocale,
			SupportedClients: b.SupportedClients,
		},
		Checker: Checker{
			MinSubjectLength:   c.MinSubjectLength,
			MinPreheaderLength: c.MinPreheaderLength,
			MinBodyLength:      c.MinBodyLength,
			HardGateScore:      c.HardGateScore,
			Currencies:         c.Currencies,
			RequiredArtifacts:  required,
		},
		Continuity: Continuity{
			ContinuityThreshold:        th.Continuity,
			PreservationThreshold:      th.Preservation,
			AssetUtilizationThreshold:  th.AssetUtilization,
			TransitionQualityThreshold: th.TransitionQuality,
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// envKey maps CAMPAIGNFLOW_SECTION_FIELD_NAME onto section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Parse builds a configuration from YAML bytes (which may be empty) and the
// environment. Defaults fill whatever neither sets.
func Parse(data []byte) (*Config, error) {
	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// LoadDefault searches for a config in standard locations and loads the first
// one found. Search order: ./campaignflow.yaml, ~/.campaignflow/config.yaml.
// Without a file, defaults and the environment apply.
func LoadDefault() (*Config, error) {
	candidates := []string{"campaignflow.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".campaignflow", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Parse(nil)
}

// applyDefaults fills every unset value from Default.
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}

	b := &cfg.Builder
	if b.CandidateMonths == 0 {
		b.CandidateMonths = d.Builder.CandidateMonths
	}
	if b.MaxSubjectLength == 0 {
		b.MaxSubjectLength = d.Builder.MaxSubjectLength
	}
	if b.MaxWidthPx == 0 {
		b.MaxWidthPx = d.Builder.MaxWidthPx
	}
	if b.DefaultCurrency == "" {
		b.DefaultCurrency = d.Builder.DefaultCurrency
	}
	if b.DefaultLocale == "" {
		b.DefaultLocale = d.Builder.DefaultLocale
	}
	if len(b.SupportedClients) == 0 {
		b.SupportedClients = d.Builder.SupportedClients
	}

	c := &cfg.Checker
	if c.MinSubjectLength == 0 {
		c.MinSubjectLength = d.Checker.MinSubjectLength
	}
	if c.MinPreheaderLength == 0 {
		c.MinPreheaderLength = d.Checker.MinPreheaderLength
	}
	if c.MinBodyLength == 0 {
		c.MinBodyLength = d.Checker.MinBodyLength
	}
	if len(c.Currencies) == 0 {
		c.Currencies = d.Checker.Currencies
	}
	if c.RequiredArtifacts == nil {
		c.RequiredArtifacts = d.Checker.RequiredArtifacts
	}

	th := &cfg.Continuity
	if th.ContinuityThreshold == 0 {
		th.ContinuityThreshold = d.Continuity.ContinuityThreshold
	}
	if th.PreservationThreshold == 0 {
		th.PreservationThreshold = d.Continuity.PreservationThreshold
	}
	if th.AssetUtilizationThreshold == 0 {
		th.AssetUtilizationThreshold = d.Continuity.AssetUtilizationThreshold
	}
	if th.TransitionQualityThreshold == 0 {
		th.TransitionQualityThreshold = d.Continuity.TransitionQualityThreshold
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
}
