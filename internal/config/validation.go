package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	messages := make([]string, 0, len(ve))
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string) {
	*ve = append(*ve, ValidationError{Field: field, Message: message})
}

// Validate checks the configuration for values the application cannot start
// with. An incomplete IAS or destination service binding is not an error;
// those collaborators run disabled.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs.Add("server.port", fmt.Sprintf("must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.PublicURL != "" {
		validateURL(&errs, "server.publicURL", c.Server.PublicURL)
	}
	if !strings.HasPrefix(c.Server.MCPPath, "/") {
		errs.Add("server.mcpPath", "must start with /")
	}
	if c.Server.RateLimit.Enabled {
		if c.Server.RateLimit.RequestsPerSecond <= 0 {
			errs.Add("server.rateLimit.requestsPerSecond", "must be positive")
		}
		if c.Server.RateLimit.Burst < 1 {
			errs.Add("server.rateLimit.burst", "must be at least 1")
		}
	}

	if c.IAS.URL != "" {
		validateURL(&errs, "ias.url", c.IAS.URL)
	}
	if !strings.HasPrefix(c.IAS.CallbackPath, "/") {
		errs.Add("ias.callbackPath", "must start with /")
	}
	if c.IAS.Timeout <= 0 {
		errs.Add("ias.timeout", "must be positive")
	}

	if strings.TrimSpace(c.Destinations.DesignTime) == "" {
		errs.Add("destinations.designTime", "is required")
	}
	if strings.TrimSpace(c.Destinations.Runtime) == "" {
		errs.Add("destinations.runtime", "is required")
	}
	for i, d := range c.Destinations.Local {
		field := fmt.Sprintf("destinations.local[%d]", i)
		if d.Name == "" {
			errs.Add(field+".name", "is required")
		}
		validateURL(&errs, field+".url", d.URL)
	}
	if c.Destinations.Timeout <= 0 {
		errs.Add("destinations.timeout", "must be positive")
	}

	if c.OData.Timeout <= 0 {
		errs.Add("odata.timeout", "must be positive")
	}

	switch c.Session.Store {
	case SessionStoreMemory:
	case SessionStoreRedis:
		if c.Session.Redis.Addr == "" {
			errs.Add("session.redis.addr", "is required when session.store is redis")
		}
	default:
		errs.Add("session.store", fmt.Sprintf("must be one of: %s, %s", SessionStoreMemory, SessionStoreRedis))
	}
	if c.Session.SweepInterval <= 0 {
		errs.Add("session.sweepInterval", "must be positive")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs.Add("logging.format", "must be one of: text, json")
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, "must be an absolute URL")
	}
}
