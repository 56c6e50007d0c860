package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, uint16(8192), cfg.Disk.BlockSize)
	assert.Equal(t, 4096, cfg.Cache.Capacity)
	assert.Equal(t, 50, cfg.Cache.DirtyPercentage)
	assert.Equal(t, 7, cfg.Snapshot.KeepSnapshots)
	assert.NoError(t, Validate(cfg))
}

func TestLoadFallsBackToDefaultsWhenNoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Disk.Path = "/tmp/test.img"
	cfg.Logging.Level = "DEBUG"

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.img", loaded.Disk.Path)
	assert.Equal(t, "DEBUG", loaded.Logging.Level)
}

func TestValidateRejectsMissingDiskPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Disk.Path = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRequiresBucketWhenVentiEnabled(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Venti.Enabled = true
	cfg.Venti.Bucket = ""
	assert.Error(t, Validate(cfg))

	cfg.Venti.Bucket = "fossil-archive"
	assert.NoError(t, Validate(cfg))
}

func TestDefaultConfigPathUsesXDGConfigHome(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/xdg")
	assert.Equal(t, "/custom/xdg/fossil", GetConfigDir())
}
