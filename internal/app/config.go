package app

import (
	"odatamcp/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of logging.level.
	Debug bool

	// ConfigPath is the YAML file to load. A missing file means defaults
	// plus environment.
	ConfigPath string

	// Version is reported by the MCP server.
	Version string

	// Gateway, when set, is used as is instead of loading ConfigPath.
	Gateway *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}
