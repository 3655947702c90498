package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "installer.vm", cfg.BootstrapPackage)
	assert.Equal(t, 60, cfg.MinFreeDiskGB)
	assert.Contains(t, cfg.ExcludedPackages, "common.vm")
	assert.NotEmpty(t, cfg.RequiredEndpoints)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
WorkDir: `+dir+`
MinFreeDiskGB: 80
ExcludedPackages:
  - bootstrap.meta
Sources:
  - Name: internal
    URL: https://packages.example.com/nuget
    Priority: 2
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.MinFreeDiskGB)
	assert.Equal(t, []string{"bootstrap.meta"}, cfg.ExcludedPackages)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, 2, cfg.Sources[0].Priority)
	// untouched keys keep their defaults
	assert.Equal(t, "installer.vm", cfg.BootstrapPackage)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), cfg.WorkConfigPath())
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("Sources: [unterminated"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "Config.yaml")
	cfg := GetDefaultConfig()
	cfg.ProfileName = "reversing-vm"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "reversing-vm", loaded.ProfileName)
	assert.Equal(t, cfg.Sources, loaded.Sources)
}
