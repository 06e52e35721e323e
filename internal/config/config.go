// Package config loads and saves the engine's JSON-serializable
// configuration file, mirroring the on-disk settings pattern the original
// GUI/TUI surfaces use: defaults filled first, then overridden by whatever
// is on disk, saved atomically via a temp-file-then-rename.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/surge-downloader/dlcore/internal/dlcore/types"
)

// FileConfig is the JSON shape persisted to disk; it mirrors
// types.Config field-for-field so engine config can round-trip without a
// lossy translation layer.
type FileConfig struct {
	MaxConcurrentDownloads int    `json:"max_concurrent_downloads"`
	SpeedLimitKB           int    `json:"speed_limit_kb"`
	DefaultThreadCount     int    `json:"default_thread_count"`
	DefaultSavePath        string `json:"default_save_path"`
	Proxy                  struct {
		Type     string `json:"type"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"proxy"`
	MaxRetries       int  `json:"max_retries"`
	RetryDelayMs     int  `json:"retry_delay_ms"`
	VerifySsl        bool `json:"verify_ssl"`
	VerifyChecksum   bool `json:"verify_checksum"`
	ConnectTimeoutMs int  `json:"connect_timeout_ms"`
	ReadTimeoutMs    int  `json:"read_timeout_ms"`
	Logging          struct {
		Level        string `json:"level"`
		LogToFile    bool   `json:"log_to_file"`
		LogToConsole bool   `json:"log_to_console"`
		LogFilePath  string `json:"log_file_path"`
	} `json:"logging"`
}

// DefaultFileConfig mirrors types.DefaultConfig in the on-disk shape.
func DefaultFileConfig() *FileConfig {
	d := types.DefaultConfig()
	fc := &FileConfig{
		MaxConcurrentDownloads: d.MaxConcurrentDownloads,
		SpeedLimitKB:           d.SpeedLimitKB,
		DefaultThreadCount:     d.DefaultThreadCount,
		DefaultSavePath:        d.DefaultSavePath,
		MaxRetries:             d.MaxRetries,
		RetryDelayMs:           d.RetryDelayMs,
		VerifySsl:              d.VerifySsl,
		VerifyChecksum:         d.VerifyChecksum,
		ConnectTimeoutMs:       d.ConnectTimeoutMs,
		ReadTimeoutMs:          d.ReadTimeoutMs,
	}
	fc.Logging.LogToConsole = d.Logging.LogToConsole
	return fc
}

// ToConfig converts the on-disk shape into the engine's runtime Config.
func (fc *FileConfig) ToConfig() types.Config {
	cfg := types.Config{
		MaxConcurrentDownloads: fc.MaxConcurrentDownloads,
		SpeedLimitKB:           fc.SpeedLimitKB,
		DefaultThreadCount:     fc.DefaultThreadCount,
		DefaultSavePath:        fc.DefaultSavePath,
		MaxRetries:             fc.MaxRetries,
		RetryDelayMs:           fc.RetryDelayMs,
		VerifySsl:              fc.VerifySsl,
		VerifyChecksum:         fc.VerifyChecksum,
		ConnectTimeoutMs:       fc.ConnectTimeoutMs,
		ReadTimeoutMs:          fc.ReadTimeoutMs,
		Proxy: types.ProxyConfig{
			Type:     types.ParseProxyType(fc.Proxy.Type),
			Host:     fc.Proxy.Host,
			Port:     fc.Proxy.Port,
			Username: fc.Proxy.Username,
			Password: fc.Proxy.Password,
		},
	}
	cfg.Logging = types.LogConfig{
		LogToFile:    fc.Logging.LogToFile,
		LogToConsole: fc.Logging.LogToConsole,
		LogFilePath:  fc.Logging.LogFilePath,
	}
	switch fc.Logging.Level {
	case "ERROR":
		cfg.Logging.Level = types.LogError
	case "WARN":
		cfg.Logging.Level = types.LogWarning
	case "DEBUG":
		cfg.Logging.Level = types.LogDebug
	case "NONE":
		cfg.Logging.Level = types.LogNone
	default:
		cfg.Logging.Level = types.LogInfo
	}
	cfg.Validate()
	return cfg
}

// GetConfigDir follows the teacher's per-OS user-config-directory
// convention.
func GetConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = home
	}
	return filepath.Join(dir, "dlcore")
}

func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}

// Load reads config.json, returning defaults if it doesn't exist yet.
func Load() (types.Config, error) {
	path := GetConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultFileConfig().ToConfig(), nil
		}
		return types.Config{}, err
	}

	fc := DefaultFileConfig()
	if err := json.Unmarshal(data, fc); err != nil {
		return types.Config{}, err
	}
	return fc.ToConfig(), nil
}

// Save writes cfg to config.json atomically: write to a temp file, then
// rename over the target.
func Save(cfg types.Config) error {
	fc := &FileConfig{
		MaxConcurrentDownloads: cfg.MaxConcurrentDownloads,
		SpeedLimitKB:           cfg.SpeedLimitKB,
		DefaultThreadCount:     cfg.DefaultThreadCount,
		DefaultSavePath:        cfg.DefaultSavePath,
		MaxRetries:             cfg.MaxRetries,
		RetryDelayMs:           cfg.RetryDelayMs,
		VerifySsl:              cfg.VerifySsl,
		VerifyChecksum:         cfg.VerifyChecksum,
		ConnectTimeoutMs:       cfg.ConnectTimeoutMs,
		ReadTimeoutMs:          cfg.ReadTimeoutMs,
	}
	fc.Proxy.Type = cfg.Proxy.Type.String()
	fc.Proxy.Host = cfg.Proxy.Host
	fc.Proxy.Port = cfg.Proxy.Port
	fc.Proxy.Username = cfg.Proxy.Username
	fc.Proxy.Password = cfg.Proxy.Password
	fc.Logging.Level = cfg.Logging.Level.String()
	fc.Logging.LogToFile = cfg.Logging.LogToFile
	fc.Logging.LogToConsole = cfg.Logging.LogToConsole
	fc.Logging.LogFilePath = cfg.Logging.LogFilePath

	path := GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}
