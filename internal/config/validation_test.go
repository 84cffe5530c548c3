package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "port out of range",
			mutate: func(c *Config) { c.Server.Port = 70000 },
			fields: []string{"server.port"},
		},
		{
			name:   "relative public URL",
			mutate: func(c *Config) { c.Server.PublicURL = "gw.example.com" },
			fields: []string{"server.publicURL"},
		},
		{
			name: "rate limit enabled without budget",
			mutate: func(c *Config) {
				c.Server.RateLimit.RequestsPerSecond = 0
				c.Server.RateLimit.Burst = 0
			},
			fields: []string{"server.rateLimit.requestsPerSecond", "server.rateLimit.burst"},
		},
		{
			name: "disabled rate limit ignores budget",
			mutate: func(c *Config) {
				c.Server.RateLimit = RateLimitConfig{}
			},
		},
		{
			name:   "missing destination names",
			mutate: func(c *Config) { c.Destinations.DesignTime, c.Destinations.Runtime = "", " " },
			fields: []string{"destinations.designTime", "destinations.runtime"},
		},
		{
			name: "local destination without URL",
			mutate: func(c *Config) {
				c.Destinations.Local = []LocalDestination{{Name: "X"}}
			},
			fields: []string{"destinations.local[0].url"},
		},
		{
			name:   "unknown session store",
			mutate: func(c *Config) { c.Session.Store = "etcd" },
			fields: []string{"session.store"},
		},
		{
			name: "redis without address",
			mutate: func(c *Config) {
				c.Session.Store = SessionStoreRedis
				c.Session.Redis.Addr = ""
			},
			fields: []string{"session.redis.addr"},
		},
		{
			name:   "incomplete IAS binding is allowed",
			mutate: func(c *Config) { c.IAS.URL = "https://tenant.accounts.ondemand.com" },
		},
		{
			name:   "bad log format",
			mutate: func(c *Config) { c.Logging.Format = "xml" },
			fields: []string{"logging.format"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected ValidationErrors, got %v", err)
			got := make([]string, 0, len(verrs))
			for _, v := range verrs {
				got = append(got, v.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var errs ValidationErrors
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("server.port", "must be positive")
	assert.Equal(t, "field 'server.port': must be positive", errs.Error())

	errs.Add("", "something else")
	assert.Equal(t, "validation failed: field 'server.port': must be positive; something else", errs.Error())
}
