package config

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

func TestDefaultFileConfig_MatchesTypesDefault(t *testing.T) {
	d := types.DefaultConfig()
	fc := DefaultFileConfig()
	assert.Equal(t, d.MaxConcurrentDownloads, fc.MaxConcurrentDownloads)
	assert.Equal(t, d.DefaultThreadCount, fc.DefaultThreadCount)
	assert.Equal(t, d.MaxRetries, fc.MaxRetries)
}

func TestToConfig_ParsesLogLevels(t *testing.T) {
	cases := map[string]types.LogLevel{
		"ERROR":   types.LogError,
		"WARN":    types.LogWarning,
		"DEBUG":   types.LogDebug,
		"NONE":    types.LogNone,
		"":        types.LogInfo,
		"bogus":   types.LogInfo,
	}
	for input, want := range cases {
		fc := DefaultFileConfig()
		fc.Logging.Level = input
		got := fc.ToConfig()
		assert.Equal(t, want, got.Logging.Level, "input %q", input)
	}
}

func TestToConfig_ParsesProxyType(t *testing.T) {
	fc := DefaultFileConfig()
	fc.Proxy.Type = "socks5"
	fc.Proxy.Host = "proxy.local"
	fc.Proxy.Port = 1080
	cfg := fc.ToConfig()
	assert.Equal(t, types.ProxySOCKS5, cfg.Proxy.Type)
	assert.Equal(t, "proxy.local", cfg.Proxy.Host)
	assert.Equal(t, 1080, cfg.Proxy.Port)
}

func TestFileConfig_RoundTripsThroughJSON(t *testing.T) {
	cfg := types.DefaultConfig()
	cfg.MaxConcurrentDownloads = 7
	cfg.Proxy.Type = types.ProxyHTTPConnect
	cfg.Proxy.Host = "10.0.0.1"
	cfg.Proxy.Port = 8080
	cfg.Logging.Level = types.LogDebug

	fc := &FileConfig{
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
	}
	fc.Proxy.Type = cfg.Proxy.Type.String()
	fc.Proxy.Host = cfg.Proxy.Host
	fc.Proxy.Port = cfg.Proxy.Port
	fc.Logging.Level = cfg.Logging.Level.String()

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var reloaded FileConfig
	require.NoError(t, json.Unmarshal(data, &reloaded))
	restored := reloaded.ToConfig()

	assert.Equal(t, 7, restored.MaxConcurrentDownloads)
	assert.Equal(t, types.ProxyHTTPConnect, restored.Proxy.Type)
	assert.Equal(t, "10.0.0.1", restored.Proxy.Host)
	assert.Equal(t, types.LogDebug, restored.Logging.Level)
}

func TestGetConfigPath_EndsInConfigJSON(t *testing.T) {
	path := GetConfigPath()
	assert.Contains(t, path, "dlcore")
	assert.Equal(t, "config.json", filepath.Base(path))
}
