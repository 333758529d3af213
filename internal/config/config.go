// Package config loads swflow settings from defaults, an optional YAML
// file, SWFLOW_* environment variables and command line overrides.
package config

import (
	"time"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SWFLOW_"

// Config holds the settings of the swflow command.
type Config struct {
	Log             LogConfig     `koanf:"log"`
	Store           StoreConfig   `koanf:"store"`
	HTTP            HTTPConfig    `koanf:"http"`
	ExecutionsDir   string        `koanf:"executions_dir"`
	ActivityLogsDir string        `koanf:"activity_logs_dir"`
	BaseDir         string        `koanf:"base_dir"`
	Timeout         time.Duration `koanf:"timeout"           validate:"min=0"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `koanf:"level"  validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// StoreConfig selects the checkpoint store. An empty DSN keeps checkpoints
// in files under ExecutionsDir when that is set.
type StoreConfig struct {
	DSN string `koanf:"dsn"`
}

// HTTPConfig configures the client used by REST functions.
type HTTPConfig struct {
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "error",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// envKeys maps environment variables to configuration keys.
var envKeys = map[string]string{
	EnvPrefix + "LOG_LEVEL":         "log.level",
	EnvPrefix + "LOG_FORMAT":        "log.format",
	EnvPrefix + "STORE_DSN":         "store.dsn",
	EnvPrefix + "HTTP_TIMEOUT":      "http.timeout",
	EnvPrefix + "EXECUTIONS_DIR":    "executions_dir",
	EnvPrefix + "ACTIVITY_LOGS_DIR": "activity_logs_dir",
	EnvPrefix + "BASE_DIR":          "base_dir",
	EnvPrefix + "TIMEOUT":           "timeout",
}
