package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasnoah/campaignflow/internal/pipeline"
)

const validConfig = `
storage:
  backend: sqlite
  path: /var/lib/campaignflow/campaignflow.db
builder:
  candidate_months: 6
  default_currency: EUR
  default_locale: it-IT
checker:
  min_subject_length: 12
  hard_gate_score: 70
  currencies: [EUR, USD]
  required_artifacts:
    content: [destination-analysis]
    design: ["{campaign}/content-context"]
continuity:
  continuity_threshold: 85
logging:
  level: debug
  format: console
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "campaignflow.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "sqlite")
	}
	if cfg.Storage.Path != "/var/lib/campaignflow/campaignflow.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Builder.CandidateMonths != 6 {
		t.Errorf("Builder.CandidateMonths = %d, want 6", cfg.Builder.CandidateMonths)
	}
	if cfg.Builder.DefaultCurrency != "EUR" {
		t.Errorf("Builder.DefaultCurrency = %q, want %q", cfg.Builder.DefaultCurrency, "EUR")
	}
	if cfg.Checker.MinSubjectLength != 12 {
		t.Errorf("Checker.MinSubjectLength = %d, want 12", cfg.Checker.MinSubjectLength)
	}
	if cfg.Checker.HardGateScore != 70 {
		t.Errorf("Checker.HardGateScore = %d, want 70", cfg.Checker.HardGateScore)
	}
	if len(cfg.Checker.Currencies) != 2 {
		t.Errorf("Checker.Currencies = %v, want [EUR USD]", cfg.Checker.Currencies)
	}
	if got := cfg.Checker.RequiredArtifacts["design"]; len(got) != 1 || got[0] != "{campaign}/content-context" {
		t.Errorf("RequiredArtifacts[design] = %v", got)
	}
	if cfg.Continuity.ContinuityThreshold != 85 {
		t.Errorf("ContinuityThreshold = %d, want 85", cfg.Continuity.ContinuityThreshold)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefaultsApplied(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Unset values come from the component defaults.
	if cfg.Builder.MaxSubjectLength != 60 {
		t.Errorf("Builder.MaxSubjectLength = %d, want 60", cfg.Builder.MaxSubjectLength)
	}
	if cfg.Checker.MinPreheaderLength != 20 {
		t.Errorf("Checker.MinPreheaderLength = %d, want 20", cfg.Checker.MinPreheaderLength)
	}
	if cfg.Checker.MinBodyLength != 50 {
		t.Errorf("Checker.MinBodyLength = %d, want 50", cfg.Checker.MinBodyLength)
	}
	if cfg.Continuity.PreservationThreshold != 95 {
		t.Errorf("PreservationThreshold = %d, want 95", cfg.Continuity.PreservationThreshold)
	}
	if cfg.Continuity.AssetUtilizationThreshold != 80 {
		t.Errorf("AssetUtilizationThreshold = %d, want 80", cfg.Continuity.AssetUtilizationThreshold)
	}
	if cfg.Continuity.TransitionQualityThreshold != 85 {
		t.Errorf("TransitionQualityThreshold = %d, want 85", cfg.Continuity.TransitionQualityThreshold)
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error: %v", err)
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "file")
	}
	if len(cfg.Checker.RequiredArtifacts) != 4 {
		t.Errorf("RequiredArtifacts has %d stages, want 4", len(cfg.Checker.RequiredArtifacts))
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(defaults) = %v, want no errors", errs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAMPAIGNFLOW_STORAGE_BACKEND", "postgres")
	t.Setenv("CAMPAIGNFLOW_STORAGE_DSN", "postgres://localhost/campaignflow")
	t.Setenv("CAMPAIGNFLOW_CHECKER_HARD_GATE_SCORE", "90")
	t.Setenv("CAMPAIGNFLOW_LOGGING_LEVEL", "warn")

	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "postgres")
	}
	if cfg.Storage.DSN != "postgres://localhost/campaignflow" {
		t.Errorf("Storage.DSN = %q", cfg.Storage.DSN)
	}
	if cfg.Checker.HardGateScore != 90 {
		t.Errorf("Checker.HardGateScore = %d, want 90", cfg.Checker.HardGateScore)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"CAMPAIGNFLOW_STORAGE_BACKEND", "storage.backend"},
		{"CAMPAIGNFLOW_CHECKER_MIN_BODY_LENGTH", "checker.min_body_length"},
		{"CAMPAIGNFLOW_LOGGING", "logging"},
	}
	for _, tt := range tests {
		if got := envKey(tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/campaignflow.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "storage: [unterminated")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"postgres without dsn", func(c *Config) { c.Storage.Backend = "postgres" }, "storage.dsn"},
		{"candidate months", func(c *Config) { c.Builder.CandidateMonths = 30 }, "builder.candidate_months"},
		{"default currency", func(c *Config) { c.Builder.DefaultCurrency = "euro" }, "builder.default_currency"},
		{"negative length", func(c *Config) { c.Checker.MinBodyLength = -1 }, "checker.min_body_length"},
		{"hard gate", func(c *Config) { c.Checker.HardGateScore = 101 }, "checker.hard_gate_score"},
		{"currency list", func(c *Config) { c.Checker.Currencies = []string{"EUR", "usd"} }, "checker.currencies[1]"},
		{"unknown stage", func(c *Config) { c.Checker.RequiredArtifacts["review"] = []string{"x"} }, "checker.required_artifacts.review"},
		{"threshold", func(c *Config) { c.Continuity.PreservationThreshold = 120 }, "continuity.preservation_threshold"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := Validate(cfg)
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want exactly one error", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "storage.backend", Message: "unrecognized backend \"redis\""}
	if !strings.HasPrefix(e.Error(), "storage.backend: ") {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestConversions(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	b := cfg.BuilderOptions()
	if b.CandidateMonths != 6 || b.DefaultLocale != "it-IT" {
		t.Errorf("BuilderOptions() = %+v", b)
	}

	c := cfg.CheckerOptions()
	if c.HardGateScore != 70 {
		t.Errorf("CheckerOptions().HardGateScore = %d, want 70", c.HardGateScore)
	}
	if got := c.RequiredArtifacts[pipeline.StageContent]; len(got) != 1 || got[0] != "destination-analysis" {
		t.Errorf("RequiredArtifacts[content] = %v", got)
	}
	if _, ok := c.RequiredArtifacts[pipeline.StageQuality]; ok {
		t.Error("quality dependencies should be replaced by the file's map")
	}

	th := cfg.Thresholds()
	if th.Continuity != 85 || th.Preservation != 95 {
		t.Errorf("Thresholds() = %+v", th)
	}

	lc := cfg.LoggingConfig()
	if lc.Level != "debug" || lc.Format != "console" {
		t.Errorf("LoggingConfig() = %+v", lc)
	}
}
