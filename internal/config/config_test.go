package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fancyfn/fancy/internal/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Engine.StrictShapes)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
store:
  backend: sqlite
  path: /tmp/fancy.db
engine:
  strict_shapes: true
`)

	cfg, err := NewConfigLoader(NewValidator()).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/fancy.db", cfg.Store.Path)
	assert.True(t, cfg.Engine.StrictShapes)
}

func TestLoadPartialConfigFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: warn
`)

	cfg, err := NewConfigLoader(NewValidator()).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadWithDefaultsMissingFile(t *testing.T) {
	cfg, err := NewConfigLoader(NewValidator()).
		LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadWithDefaultsEmptyPath(t *testing.T) {
	cfg, err := NewConfigLoader(NewValidator()).LoadWithDefaults("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := NewConfigLoader(NewValidator()).
		Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_LOAD_FAILED, types.CodeOf(err))
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "logging: [not: a: mapping")

	_, err := NewConfigLoader(NewValidator()).Load(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_LOAD_FAILED, types.CodeOf(err))
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("FANCY_LOGGING_LEVEL", "error")

	cfg, err := NewConfigLoader(NewValidator()).LoadWithDefaults("")
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: redis
`)

	_, err := NewConfigLoader(NewValidator()).Load(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
	assert.Contains(t, err.Error(), "store.backend")
}

func TestValidateRejectsSQLiteWithoutPath(t *testing.T) {
	path := writeConfig(t, `
store:
  backend: sqlite
`)

	_, err := NewConfigLoader(NewValidator()).Load(path)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
	assert.Contains(t, err.Error(), "store.path")
}

func TestValidateNilConfig(t *testing.T) {
	err := NewValidator().Validate(nil)
	require.Error(t, err)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, types.CodeOf(err))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}
