package types

import "time"

const (
	MinThreadCount = 1
	MaxThreadCount = 16

	DefaultBufferSize = 64 * 1024

	// CheckpointExtension is the sidecar suffix described in spec §6.
	CheckpointExtension = ".dlmeta"
	PartFileSuffix      = ".part"
)

// ProxyConfig describes the optional upstream proxy used by the transport
// factory (C2).
type ProxyConfig struct {
	Type     ProxyType
	Host     string
	Port     int
	Username string
	Password string
}

// LogConfig configures the C11 logger.
type LogConfig struct {
	Level       LogLevel
	LogToFile   bool
	LogToConsole bool
	LogFilePath string
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        LogInfo,
		LogToFile:    false,
		LogToConsole: true,
	}
}

// Config is the engine-wide configuration (spec §3 "Engine configuration",
// §6 "Config knobs").
type Config struct {
	MaxConcurrentDownloads int
	SpeedLimitKB           int
	DefaultThreadCount     int
	DefaultSavePath        string
	Proxy                  ProxyConfig
	MaxRetries             int
	RetryDelayMs           int
	VerifySsl              bool
	VerifyChecksum         bool
	ConnectTimeoutMs       int
	ReadTimeoutMs          int
	Logging                LogConfig
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: 3,
		SpeedLimitKB:           0,
		DefaultThreadCount:     4,
		DefaultSavePath:        ".",
		MaxRetries:             3,
		RetryDelayMs:           1000,
		VerifySsl:              true,
		VerifyChecksum:         true,
		ConnectTimeoutMs:       30000,
		ReadTimeoutMs:          30000,
		Logging:                DefaultLogConfig(),
	}
}

// Validate clamps user-supplied values into their valid ranges, mirroring
// the original source's thread-count clamp in addTaskWithMd5.
func (c *Config) Validate() {
	if c.MaxConcurrentDownloads < 1 {
		c.MaxConcurrentDownloads = 1
	}
	if c.DefaultThreadCount < MinThreadCount {
		c.DefaultThreadCount = MinThreadCount
	}
	if c.DefaultThreadCount > MaxThreadCount {
		c.DefaultThreadCount = MaxThreadCount
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.ConnectTimeoutMs <= 0 {
		c.ConnectTimeoutMs = 30000
	}
	if c.ReadTimeoutMs <= 0 {
		c.ReadTimeoutMs = 30000
	}
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

func ClampThreadCount(n int) int {
	if n < MinThreadCount {
		return MinThreadCount
	}
	if n > MaxThreadCount {
		return MaxThreadCount
	}
	return n
}
