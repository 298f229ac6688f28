package config

// Config is the top-level configuration parsed from YAML and the environment.
type Config struct {
	Storage    Storage    `koanf:"storage" yaml:"storage"`
	Builder    Builder    `koanf:"builder" yaml:"builder"`
	Checker    Checker    `koanf:"checker" yaml:"checker"`
	Continuity Continuity `koanf:"continuity" yaml:"continuity"`
	Logging    Logging    `koanf:"logging" yaml:"logging"`
}

// Storage selects the persistence gateway.
type Storage struct {
	// Backend is one of memory, file, sqlite, postgres.
	Backend string `koanf:"backend" yaml:"backend"`
	Dir     string `koanf:"dir" yaml:"dir,omitempty"`
	Path    string `koanf:"path" yaml:"path,omitempty"`
	DSN     string `koanf:"dsn" yaml:"dsn,omitempty"`
}

// Builder holds the structural defaults of the context builder.
type Builder struct {
	CandidateMonths  int      `koanf:"candidate_months" yaml:"candidate_months"`
	MaxSubjectLength int      `koanf:"max_subject_length" yaml:"max_subject_length"`
	MaxWidthPx       int      `koanf:"max_width_px" yaml:"max_width_px"`
	DefaultCurrency  string   `koanf:"default_currency" yaml:"default_currency"`
	DefaultLocale    string   `koanf:"default_locale" yaml:"default_locale"`
	SupportedClients []string `koanf:"supported_clients" yaml:"supported_clients"`
}

// Checker holds consistency thresholds and stage dependencies.
type Checker struct {
	MinSubjectLength   int                 `koanf:"min_subject_length" yaml:"min_subject_length"`
	MinPreheaderLength int                 `koanf:"min_preheader_length" yaml:"min_preheader_length"`
	MinBodyLength      int                 `koanf:"min_body_length" yaml:"min_body_length"`
	HardGateScore      int                 `koanf:"hard_gate_score" yaml:"hard_gate_score"`
	Currencies         []string            `koanf:"currencies" yaml:"currencies"`
	RequiredArtifacts  map[string][]string `koanf:"required_artifacts" yaml:"required_artifacts"`
}

// Continuity holds the audit thresholds.
type Continuity struct {
	ContinuityThreshold        int `koanf:"continuity_threshold" yaml:"continuity_threshold"`
	PreservationThreshold      int `koanf:"preservation_threshold" yaml:"preservation_threshold"`
	AssetUtilizationThreshold  int `koanf:"asset_utilization_threshold" yaml:"asset_utilization_threshold"`
	TransitionQualityThreshold int `koanf:"transition_quality_threshold" yaml:"transition_quality_threshold"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}
