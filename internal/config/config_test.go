package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NotNil(t, cfg)

	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "http://localhost:3001", cfg.Platform.URL)
	assert.Equal(t, 1024, cfg.Cache.Size)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	testConfig := `server:
  addr: ":9090"
platform:
  url: "http://platform:8080/api"
cache:
  size: 10
logging:
  level: "debug"
`
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(testConfig), 0644))

	cfg, err := LoadConfigFromFile(configFile)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http://platform:8080/api", cfg.Platform.URL)
	assert.Equal(t, 10, cfg.Cache.Size)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Default values should be used for unspecified fields
	assert.Equal(t, 64, cfg.Events.StreamBuffer)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigPrecedence(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server:\n  addr: \":9090\"\nlogging:\n  level: warn\n"), 0644))

	t.Setenv("LIGHTHOUSE_SERVER_ADDR", ":7070")
	t.Setenv("LIGHTHOUSE_PLATFORM_TOKEN", "from-env")
	t.Setenv("LIGHTHOUSE_CACHE_SIZE", "99")

	cfg, err := LoadConfig(configFile, "", "http://flag:1", "error")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, "from-env", cfg.Platform.Token)
	assert.Equal(t, 99, cfg.Cache.Size)
	assert.Equal(t, "http://flag:1", cfg.Platform.URL, "flag overrides default")
	assert.Equal(t, "error", cfg.Logging.Level, "flag overrides file")
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("LIGHTHOUSE_CACHE_SIZE", "0")
	_, err := LoadConfig("", "", "", "")
	assert.Error(t, err)
}

func TestLoadConfigBadYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("server: [unclosed"), 0644))
	_, err := LoadConfigFromFile(configFile)
	assert.Error(t, err)
}
