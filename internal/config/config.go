// Package config loads codemesh configuration from .codemesh.yml with
// environment variable overrides, defaults first.
package config

import (
	"time"

	"github.com/draagon/codemesh/internal/ai"
	"github.com/draagon/codemesh/internal/extract"
	"github.com/draagon/codemesh/internal/files"
	"github.com/draagon/codemesh/internal/link"
)

// Config is the complete codemesh configuration.
type Config struct {
	Paths      PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Extraction ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Schemas    SchemasConfig    `yaml:"schemas" mapstructure:"schemas"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Link       LinkConfig       `yaml:"link" mapstructure:"link"`
}

// PathsConfig defines which files to extract and which to skip.
type PathsConfig struct {
	Include []string `yaml:"include" mapstructure:"include"` // glob patterns to extract
	Exclude []string `yaml:"exclude" mapstructure:"exclude"` // glob patterns to skip
}

// ExtractionConfig tunes the tiered extraction pipeline.
type ExtractionConfig struct {
	Workers           int     `yaml:"workers" mapstructure:"workers"`                         // file-level parallelism
	MaxFileSizeBytes  int64   `yaml:"max_file_size_bytes" mapstructure:"max_file_size_bytes"` // larger files are skipped
	MatchScoreFloor   float64 `yaml:"match_score_floor" mapstructure:"match_score_floor"`
	Tier1Acceptance   float64 `yaml:"tier1_acceptance" mapstructure:"tier1_acceptance"`
	TrustFloor        float64 `yaml:"trust_floor" mapstructure:"trust_floor"`
	MaxAICallsPerFile int     `yaml:"max_ai_calls_per_file" mapstructure:"max_ai_calls_per_file"`
}

// AIConfig configures the collaborator. The API key is read from the
// environment, never from the config file.
type AIConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Model           string `yaml:"model" mapstructure:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRetries      int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// SchemasConfig locates and tunes the schema store.
type SchemasConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`                     // schema directory; "" = embedded only
	Watch        bool   `yaml:"watch" mapstructure:"watch"`                 // reload on custom-dir changes
	SelfLearning bool   `yaml:"self_learning" mapstructure:"self_learning"` // run the evolver after extraction
}

// StorageConfig locates the mesh database and the codemesh home.
type StorageConfig struct {
	DBPath  string `yaml:"db_path" mapstructure:"db_path"`   // "" = <home>/mesh.db
	HomeDir string `yaml:"home_dir" mapstructure:"home_dir"` // "" = ~/.codemesh
}

// LinkConfig tunes the cross-project post-pass.
type LinkConfig struct {
	Floor       float64  `yaml:"floor" mapstructure:"floor"`               // minimum match confidence
	EnvFiles    []string `yaml:"env_files" mapstructure:"env_files"`       // dotenv sources for the resolver
	ConfigFiles []string `yaml:"config_files" mapstructure:"config_files"` // compose/app-config sources
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Include: []string{
				"**/*.go",
				"**/*.py",
				"**/*.ts",
				"**/*.tsx",
				"**/*.js",
				"**/*.jsx",
				"**/*.java",
				"**/*.rb",
				"**/*.rs",
				"**/*.php",
				"**/*.cs",
				"**/*.kt",
			},
			Exclude: []string{
				"node_modules/**",
				"vendor/**",
				".git/**",
				"dist/**",
				"build/**",
				"target/**",
				"__pycache__/**",
				"*_test.go",
				"*.min.js",
			},
		},
		Extraction: ExtractionConfig{
			Workers:           extract.DefaultWorkers,
			MaxFileSizeBytes:  files.DefaultMaxFileSize,
			MatchScoreFloor:   extract.DefaultMatchScoreFloor,
			Tier1Acceptance:   extract.DefaultTier1Acceptance,
			TrustFloor:        extract.DefaultTrustFloor,
			MaxAICallsPerFile: extract.DefaultMaxAICallsPerFile,
		},
		AI: AIConfig{
			Enabled:         true,
			Model:           ai.DefaultModel,
			MaxOutputTokens: ai.DefaultMaxOutputTokens,
			TimeoutSeconds:  60,
			MaxRetries:      ai.DefaultMaxRetries,
		},
		Schemas: SchemasConfig{
			Dir:          "",
			Watch:        false,
			SelfLearning: true,
		},
		Storage: StorageConfig{},
		Link: LinkConfig{
			Floor:       link.DefaultLinkFloor,
			EnvFiles:    []string{".env"},
			ConfigFiles: []string{"docker-compose.yml", "docker-compose.yaml"},
		},
	}
}

// AITimeout returns the per-call timeout as a duration.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// RouterConfig converts the extraction section into router thresholds.
func (c *Config) RouterConfig() extract.RouterConfig {
	return extract.RouterConfig{
		MatchScoreFloor:   c.Extraction.MatchScoreFloor,
		Tier1Acceptance:   c.Extraction.Tier1Acceptance,
		TrustFloor:        c.Extraction.TrustFloor,
		MaxAICallsPerFile: c.Extraction.MaxAICallsPerFile,
	}
}
