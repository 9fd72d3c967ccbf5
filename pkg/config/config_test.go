package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "cylindrical", cfg.Processing.Projection)
	assert.Equal(t, 0.2, cfg.Layout.Overlap)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pano.yaml")
	data := []byte("processing:\n  projection: spherical\nblending:\n  mode: twoband\n  gapTolerance: 0.05\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "spherical", cfg.Processing.Projection)
	assert.Equal(t, "twoband", cfg.Blending.Mode)
	assert.Equal(t, 0.05, cfg.Blending.GapTolerance)
	// untouched keys keep their defaults
	assert.Equal(t, 8, cfg.Focal.MinMatches)
}

func TestLoadConfigTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pano.toml")
	data := []byte("[layout]\noverlap = 0.3\n\n[focal]\nminMatches = 12\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cfg.Layout.Overlap)
	assert.Equal(t, 12, cfg.Focal.MinMatches)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("layout:\n  overlap: 1.5\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "layout.overlap")
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing: [\n"), 0644))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "error parsing config file")
}

func TestSaveAndReload(t *testing.T) {
	for _, name := range []string{"cfg.yaml", "cfg.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Blending.Mode = "average"
			cfg.Alignment.SpanWeight = 0.5
			require.NoError(t, SaveConfig(cfg, path))

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, "average", loaded.Blending.Mode)
			assert.Equal(t, 0.5, loaded.Alignment.SpanWeight)
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	_, err := os.Stat(path)
	require.NoError(t, err)
}
