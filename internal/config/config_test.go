package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for configuration loading:
// - Defaults apply when no config file exists
// - A .codemesh.yml overrides defaults without clobbering other sections
// - Environment variables override the file
// - Validation rejects out-of-range thresholds, reporting all problems
// - Path resolution falls back to <home>/mesh.db

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, Default().Extraction.Workers, cfg.Extraction.Workers)
	assert.Contains(t, cfg.Paths.Include, "**/*.py")
	assert.True(t, cfg.AI.Enabled)
	assert.InDelta(t, 0.7, cfg.Link.Floor, 1e-9)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
extraction:
  workers: 12
  trust_floor: 0.8
ai:
  enabled: false
link:
  floor: 0.9
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codemesh.yml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Extraction.Workers)
	assert.InDelta(t, 0.8, cfg.Extraction.TrustFloor, 1e-9)
	assert.False(t, cfg.AI.Enabled)
	assert.InDelta(t, 0.9, cfg.Link.Floor, 1e-9)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Extraction.MaxAICallsPerFile, cfg.Extraction.MaxAICallsPerFile)
	assert.NotEmpty(t, cfg.Paths.Exclude)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".codemesh.yml"),
		[]byte("extraction:\n  workers: 2\n"), 0644))

	t.Setenv("CODEMESH_EXTRACTION_WORKERS", "7")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Extraction.Workers)
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Extraction.Workers = 0
	cfg.Extraction.TrustFloor = 1.5
	cfg.AI.Model = ""

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction.workers")
	assert.Contains(t, err.Error(), "extraction.trust_floor")
	assert.Contains(t, err.Error(), "ai.model")
}

func TestPathResolution(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Storage.HomeDir = "/tmp/mesh-home"

	home, err := cfg.HomeDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/mesh-home", home)

	db, err := cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/mesh-home", "mesh.db"), db)

	cfg.Storage.DBPath = "/var/data/custom.db"
	db, err = cfg.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/data/custom.db", db)
}
