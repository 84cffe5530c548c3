package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"odatamcp/pkg/logging"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// LoadConfig builds the configuration in three layers: defaults, the YAML file
// at path (optional; a missing file is not an error), then environment
// overrides. The result is not validated; call Validate.
func LoadConfig(path string) (Config, error) {
	config := GetDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logging.Info("Config", "No config file found at %s, using defaults", path)
		case err != nil:
			return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
			}
			logging.Info("Config", "Loaded configuration from %s", path)
		}
	}

	if err := ApplyEnv(&config); err != nil {
		return Config{}, err
	}

	return config, nil
}

// ApplyEnv overlays environment variables onto config. Fields without a set
// variable keep their current value.
func ApplyEnv(config *Config) error {
	if err := envdecode.Decode(config); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("error decoding environment: %w", err)
	}

	if config.Destinations.LocalJSON != "" {
		local, err := ParseLocalDestinations(config.Destinations.LocalJSON)
		if err != nil {
			return err
		}
		config.Destinations.Local = mergeLocal(config.Destinations.Local, local)
		logging.Debug("Config", "Loaded %d local destination override(s) from environment", len(local))
	}

	return nil
}

// ParseLocalDestinations parses the approuter "destinations" JSON list.
func ParseLocalDestinations(raw string) ([]LocalDestination, error) {
	var local []LocalDestination
	if err := json.Unmarshal([]byte(raw), &local); err != nil {
		return nil, fmt.Errorf("invalid destinations JSON: %w", err)
	}
	return local, nil
}

// mergeLocal returns base with entries from override replacing same-named ones.
func mergeLocal(base, override []LocalDestination) []LocalDestination {
	index := make(map[string]int, len(base))
	merged := append([]LocalDestination(nil), base...)
	for i, d := range merged {
		index[d.Name] = i
	}
	for _, d := range override {
		if i, ok := index[d.Name]; ok {
			merged[i] = d
			continue
		}
		index[d.Name] = len(merged)
		merged = append(merged, d)
	}
	return merged
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// BaseURL returns PublicURL, or http://host:port when it is unset.
func (c ServerConfig) BaseURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	return "http://" + c.Address()
}
