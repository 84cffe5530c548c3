package config

import "time"

// Config is the top-level configuration structure for odatamcp.
//
// Fields carry two tags: yaml for the config file and env for envdecode
// overrides. Environment variables win over the file.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	IAS          IASConfig          `yaml:"ias"`
	Destinations DestinationsConfig `yaml:"destinations"`
	OData        ODataConfig        `yaml:"odata"`
	Session      SessionConfig      `yaml:"session"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig configures the auth gateway HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" env:"HOST"`
	Port int    `yaml:"port,omitempty" env:"PORT"`

	// PublicURL is the externally reachable base URL, used to build the
	// OAuth redirect URI. Defaults to http://host:port.
	PublicURL string `yaml:"publicURL,omitempty" env:"PUBLIC_URL"`

	// MCPPath is where the MCP streamable HTTP endpoint is mounted.
	MCPPath string `yaml:"mcpPath,omitempty"`

	ReadTimeout     time.Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"writeTimeout,omitempty"`
	IdleTimeout     time.Duration `yaml:"idleTimeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty"`

	RateLimit RateLimitConfig `yaml:"rateLimit"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool `yaml:"trustProxyHeaders,omitempty" env:"TRUST_PROXY_HEADERS"`

	// PublicMetrics serves /metrics without a session. Otherwise the caller
	// needs an admin session.
	PublicMetrics bool `yaml:"publicMetrics,omitempty" env:"PUBLIC_METRICS"`

	// MinAvailableMemoryMB is the system memory headroom below which
	// /health reports unavailable. Zero disables the check.
	MinAvailableMemoryMB uint64 `yaml:"minAvailableMemoryMB,omitempty"`
}

// RateLimitConfig configures the per-client-IP limiter on auth endpoints.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// IASConfig configures the SAP Identity Authentication Service client.
// The client is disabled unless URL, ClientID and ClientSecret are all set.
type IASConfig struct {
	URL          string `yaml:"url,omitempty" env:"SAP_IAS_URL"`
	ClientID     string `yaml:"clientID,omitempty" env:"SAP_IAS_CLIENT_ID"`
	ClientSecret string `yaml:"clientSecret,omitempty" env:"SAP_IAS_CLIENT_SECRET"`

	// Discovery resolves endpoints from OIDC discovery instead of the
	// fixed /oauth2/* paths under URL.
	Discovery bool `yaml:"discovery,omitempty"`

	// Scopes requested in the authorization code flow.
	Scopes []string `yaml:"scopes,omitempty"`

	// ScopeMapping maps IAS groups or scopes to application scopes.
	ScopeMapping map[string]string `yaml:"scopeMapping,omitempty"`

	// CallbackPath is the gateway path IAS redirects back to.
	CallbackPath string `yaml:"callbackPath,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DestinationsConfig names the two destinations and where to resolve them.
type DestinationsConfig struct {
	DesignTime string `yaml:"designTime,omitempty" env:"SAP_DESIGNTIME_DESTINATION"`
	Runtime    string `yaml:"runtime,omitempty" env:"SAP_RUNTIME_DESTINATION"`

	// LocalJSON is the approuter-style override list from the environment.
	// It is parsed into Local by Load.
	LocalJSON string `yaml:"-" env:"destinations"`

	// Local destinations bypass the destination service entirely.
	Local []LocalDestination `yaml:"local,omitempty"`

	Service DestinationServiceConfig `yaml:"service"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// LocalDestination is one entry of the local override list.
type LocalDestination struct {
	Name           string `yaml:"name" json:"name"`
	URL            string `yaml:"url" json:"url"`
	Username       string `yaml:"username,omitempty" json:"username,omitempty"`
	Password       string `yaml:"password,omitempty" json:"password,omitempty"`
	Authentication string `yaml:"authentication,omitempty" json:"authentication,omitempty"`
}

// DestinationServiceConfig holds the BTP destination service binding.
type DestinationServiceConfig struct {
	URL          string `yaml:"url,omitempty" env:"DESTINATION_SERVICE_URL"`
	TokenURL     string `yaml:"tokenURL,omitempty" env:"DESTINATION_SERVICE_TOKEN_URL"`
	ClientID     string `yaml:"clientID,omitempty" env:"DESTINATION_SERVICE_CLIENT_ID"`
	ClientSecret string `yaml:"clientSecret,omitempty" env:"DESTINATION_SERVICE_CLIENT_SECRET"`
}

// Configured reports whether the destination service binding is complete.
func (c DestinationServiceConfig) Configured() bool {
	return c.URL != "" && c.TokenURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// ODataConfig configures the SAP backend client.
type ODataConfig struct {
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// CatalogPath is the service catalog used by discovery.
	CatalogPath string `yaml:"catalogPath,omitempty"`
}

// Session store backends.
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// SessionConfig configures the token store.
type SessionConfig struct {
	Store         string        `yaml:"store,omitempty" env:"SESSION_STORE"`
	SweepInterval time.Duration `yaml:"sweepInterval,omitempty"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis session backend.
type RedisConfig struct {
	Addr      string `yaml:"addr,omitempty" env:"REDIS_ADDR"`
	Password  string `yaml:"password,omitempty" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"keyPrefix,omitempty"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" env:"LOG_LEVEL"`
	Format string `yaml:"format,omitempty" env:"LOG_FORMAT"`
}
