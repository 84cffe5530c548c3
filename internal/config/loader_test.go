package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"PORT", "HOST", "PUBLIC_URL",
	"SAP_IAS_URL", "SAP_IAS_CLIENT_ID", "SAP_IAS_CLIENT_SECRET",
	"SAP_DESIGNTIME_DESTINATION", "SAP_RUNTIME_DESTINATION", "destinations",
	"DESTINATION_SERVICE_URL", "DESTINATION_SERVICE_TOKEN_URL",
	"DESTINATION_SERVICE_CLIENT_ID", "DESTINATION_SERVICE_CLIENT_SECRET",
	"SESSION_STORE", "REDIS_ADDR", "REDIS_PASSWORD", "LOG_LEVEL", "LOG_FORMAT",
	"TRUST_PROXY_HEADERS", "PUBLIC_METRICS",
}

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, SessionStoreMemory, cfg.Session.Store)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
server:
  port: 8080
  publicURL: https://gw.example.com
ias:
  url: https://tenant.accounts.ondemand.com
  clientID: cid
  scopeMapping:
    SAP_ADMINS: admin
destinations:
  designTime: DT
  local:
    - name: DT
      url: https://dt.example.com
      username: tech
      password: pw
session:
  sweepInterval: 90s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
	assert.Equal(t, "https://gw.example.com", cfg.Server.BaseURL())
	assert.Equal(t, "admin", cfg.IAS.ScopeMapping["SAP_ADMINS"])
	assert.Equal(t, "DT", cfg.Destinations.DesignTime)
	assert.Equal(t, DefaultRuntimeDestination, cfg.Destinations.Runtime)
	require.Len(t, cfg.Destinations.Local, 1)
	assert.Equal(t, "tech", cfg.Destinations.Local[0].Username)
	assert.Equal(t, 90*time.Second, cfg.Session.SweepInterval)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}

func TestLoadConfig_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  port: 8080
ias:
  url: https://file.accounts.ondemand.com
`)

	t.Setenv("PORT", "9090")
	t.Setenv("SAP_IAS_URL", "https://env.accounts.ondemand.com")
	t.Setenv("SAP_IAS_CLIENT_SECRET", "from-env")
	t.Setenv("SAP_RUNTIME_DESTINATION", "RUNTIME_DEST")
	t.Setenv("SESSION_STORE", "redis")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("DESTINATION_SERVICE_URL", "https://destination.example.com")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.TrustProxyHeaders)
	assert.False(t, cfg.Server.PublicMetrics)
	assert.Equal(t, "https://env.accounts.ondemand.com", cfg.IAS.URL)
	assert.Equal(t, "from-env", cfg.IAS.ClientSecret)
	assert.Equal(t, "RUNTIME_DEST", cfg.Destinations.Runtime)
	assert.Equal(t, SessionStoreRedis, cfg.Session.Store)
	assert.Equal(t, "redis:6380", cfg.Session.Redis.Addr)
	assert.False(t, cfg.Destinations.Service.Configured())
}

func TestLoadConfig_LocalDestinationsFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
destinations:
  local:
    - name: RUNTIME_DEST
      url: https://old.example.com
    - name: OTHER
      url: https://other.example.com
`)

	t.Setenv("destinations", `[{"name":"RUNTIME_DEST","url":"https://x","username":"u","password":"p"},{"name":"NEW","url":"https://new"}]`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Destinations.Local, 3)
	assert.Equal(t, LocalDestination{Name: "RUNTIME_DEST", URL: "https://x", Username: "u", Password: "p"}, cfg.Destinations.Local[0])
	assert.Equal(t, "OTHER", cfg.Destinations.Local[1].Name)
	assert.Equal(t, "NEW", cfg.Destinations.Local[2].Name)
}

func TestLoadConfig_InvalidDestinationsJSON(t *testing.T) {
	clearEnv(t)
	t.Setenv("destinations", `{not json`)

	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid destinations JSON")
}

func TestServerConfig_BaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:3000", ServerConfig{Host: "localhost", Port: 3000}.BaseURL())
	assert.Equal(t, "https://public", ServerConfig{Host: "0.0.0.0", Port: 1, PublicURL: "https://public"}.BaseURL())
}
