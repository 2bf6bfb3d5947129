package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration with the following priority (highest wins):
//  1. Environment variables (CODEMESH_*)
//  2. .codemesh.yml in rootDir, then in the user's home
//  3. Defaults
func Load(rootDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(".codemesh")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	v.SetEnvPrefix("CODEMESH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults plus env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from an explicit file, skipping the
// search path. Environment variables still override the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetEnvPrefix("CODEMESH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFromWorkingDir loads configuration rooted at the current directory.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return Load(wd)
}

// HomeDir resolves the codemesh home directory, creating nothing.
func (c *Config) HomeDir() (string, error) {
	if c.Storage.HomeDir != "" {
		return c.Storage.HomeDir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".codemesh"), nil
}

// DBPath resolves the mesh database location.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	home, err := c.HomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "mesh.db"), nil
}

func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("paths.include", defaults.Paths.Include)
	v.SetDefault("paths.exclude", defaults.Paths.Exclude)

	v.SetDefault("extraction.workers", defaults.Extraction.Workers)
	v.SetDefault("extraction.max_file_size_bytes", defaults.Extraction.MaxFileSizeBytes)
	v.SetDefault("extraction.match_score_floor", defaults.Extraction.MatchScoreFloor)
	v.SetDefault("extraction.tier1_acceptance", defaults.Extraction.Tier1Acceptance)
	v.SetDefault("extraction.trust_floor", defaults.Extraction.TrustFloor)
	v.SetDefault("extraction.max_ai_calls_per_file", defaults.Extraction.MaxAICallsPerFile)

	v.SetDefault("ai.enabled", defaults.AI.Enabled)
	v.SetDefault("ai.model", defaults.AI.Model)
	v.SetDefault("ai.max_output_tokens", defaults.AI.MaxOutputTokens)
	v.SetDefault("ai.timeout_seconds", defaults.AI.TimeoutSeconds)
	v.SetDefault("ai.max_retries", defaults.AI.MaxRetries)

	v.SetDefault("schemas.dir", defaults.Schemas.Dir)
	v.SetDefault("schemas.watch", defaults.Schemas.Watch)
	v.SetDefault("schemas.self_learning", defaults.Schemas.SelfLearning)

	v.SetDefault("storage.db_path", defaults.Storage.DBPath)
	v.SetDefault("storage.home_dir", defaults.Storage.HomeDir)

	v.SetDefault("link.floor", defaults.Link.Floor)
	v.SetDefault("link.env_files", defaults.Link.EnvFiles)
	v.SetDefault("link.config_files", defaults.Link.ConfigFiles)
}
