package ias

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/internal/metrics"
)

// fakeIAS is a minimal Identity Authentication Service tenant.
type fakeIAS struct {
	*httptest.Server
	t        *testing.T
	requests atomic.Int32
	revoked  atomic.Value
}

func newFakeIAS(t *testing.T) *fakeIAS {
	t.Helper()
	f := &fakeIAS{t: t}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", f.token)
	mux.HandleFunc("/oauth2/userinfo", f.userinfo)
	mux.HandleFunc("/oauth2/introspect", f.introspect)
	mux.HandleFunc("/oauth2/revoke", func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		_ = r.ParseForm()
		f.revoked.Store(r.PostForm.Get("token"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"issuer":                 f.URL,
			"authorization_endpoint": f.URL + "/custom/authorize",
			"token_endpoint":         f.URL + "/oauth2/token",
			"userinfo_endpoint":      f.URL + "/oauth2/userinfo",
		})
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIAS) token(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	id, secret, ok := r.BasicAuth()
	if !ok || id != "client" || secret != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	_ = r.ParseForm()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error":             "invalid_grant",
				"error_description": "code expired; internal trace id 42",
			})
			return
		}
		if r.PostForm.Get("code_verifier") != "verifier" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "at-alice",
			"refresh_token": "rt-alice",
			"expires_in":    3600,
			"token_type":    "Bearer",
			"scope":         "openid read",
		})
	case "password":
		if r.PostForm.Get("password") != "pw" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "at-alice",
			"expires_in":   600,
		})
	case "client_credentials":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "at-system",
			"expires_in":   1800,
		})
	case "refresh_token":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token": "at-refreshed",
			"expires_in":   900,
			"scope":        "read",
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
	}
}

func (f *fakeIAS) userinfo(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	if r.Header.Get("Authorization") != "Bearer at-alice" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sub":                "P000123",
		"email":              "alice@example.com",
		"preferred_username": "alice",
		"groups":             []string{"SAP_ADMINS"},
	})
}

func (f *fakeIAS) introspect(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)
	_ = r.ParseForm()
	if r.PostForm.Get("token") != "active-token" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":    true,
		"sub":       "P000123",
		"username":  "alice",
		"client_id": "client",
		"scope":     "read write",
		"exp":       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		"zone_uuid": "tenant-1",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(f *fakeIAS, mutate ...func(*config.IASConfig)) *Client {
	cfg := config.IASConfig{
		URL:          f.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{"openid", "email"},
		ScopeMapping: map[string]string{"SAP_ADMINS": "admin"},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg, WithHTTPClient(f.Client()))
}

func TestClient_NotConfigured(t *testing.T) {
	f := newFakeIAS(t)
	c := NewClient(config.IASConfig{URL: f.URL, ClientID: "client"})
	ctx := context.Background()

	assert.False(t, c.IsProperlyConfigured())

	calls := map[string]func() error{
		"code": func() error {
			_, err := c.ExchangeCodeForTokens(ctx, "good-code", "http://localhost/callback", "verifier")
			return err
		},
		"password": func() error {
			_, err := c.AuthenticateUser(ctx, "alice", "pw")
			return err
		},
		"client credentials": func() error {
			_, err := c.GetClientCredentialsToken(ctx)
			return err
		},
		"refresh": func() error {
			_, err := c.RefreshToken(ctx, "rt")
			return err
		},
		"validate": func() error {
			_, err := c.ValidateToken(ctx, "active-token")
			return err
		},
		"userinfo": func() error {
			_, err := c.GetUserInfo(ctx, "at-alice")
			return err
		},
		"revoke": func() error {
			return c.RevokeToken(ctx, "at-alice", "")
		},
		"authorize url": func() error {
			_, err := c.AuthorizationURL(ctx, "state", "http://localhost/callback", "verifier")
			return err
		},
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, errors.Is(err, api.ErrConfiguration))

			var cfgErr *api.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, []string{"clientSecret"}, cfgErr.Missing)
		})
	}

	assert.Zero(t, f.requests.Load(), "no request reaches the provider")
}

func TestClient_ExchangeCodeForTokens(t *testing.T) {
	f := newFakeIAS(t)
	m := metrics.New()
	c := NewClient(config.IASConfig{
		URL:          f.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		ScopeMapping: map[string]string{"SAP_ADMINS": "admin"},
	}, WithHTTPClient(f.Client()), WithMetrics(m))

	data, err := c.ExchangeCodeForTokens(context.Background(), "good-code", "http://localhost/callback", "verifier")
	require.NoError(t, err)

	assert.Equal(t, "at-alice", data.AccessToken)
	assert.Equal(t, "rt-alice", data.RefreshToken)
	assert.Equal(t, 3600, data.ExpiresIn)
	assert.Equal(t, "alice", data.User)
	assert.Equal(t, []string{"openid", "read", "admin"}, data.Scopes)
}

func TestClient_ExchangeCodeRejected(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	data, err := c.ExchangeCodeForTokens(context.Background(), "expired-code", "http://localhost/callback", "verifier")
	require.Error(t, err)
	assert.Nil(t, data)

	assert.True(t, errors.Is(err, api.ErrTokenExchangeFailed))
	var exErr *api.TokenExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, "authorization_code", exErr.Grant)
	assert.Equal(t, http.StatusBadRequest, exErr.Status)
	assert.Equal(t, http.StatusUnauthorized, api.HTTPStatus(err))
	assert.NotContains(t, err.Error(), "trace id", "provider description is not surfaced")
}

func TestClient_AuthenticateUser(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	data, err := c.AuthenticateUser(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", data.User)
	assert.Equal(t, 600, data.ExpiresIn)
	assert.Equal(t, []string{"admin"}, data.Scopes)

	_, err = c.AuthenticateUser(context.Background(), "alice", "wrong")
	assert.True(t, errors.Is(err, api.ErrTokenExchangeFailed))
}

func TestClient_GetClientCredentialsToken(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	data, err := c.GetClientCredentialsToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-system", data.AccessToken)
	assert.Equal(t, SystemUser, data.User)
	assert.Equal(t, DefaultTechnicalScopes, data.Scopes)

	data.Scopes[0] = "mutated"
	assert.Equal(t, "read", DefaultTechnicalScopes[0], "defaults are copied")
}

func TestClient_RefreshKeepsRefreshToken(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	data, err := c.RefreshToken(context.Background(), "rt-original")
	require.NoError(t, err)
	assert.Equal(t, "at-refreshed", data.AccessToken)
	assert.Equal(t, "rt-original", data.RefreshToken)
	assert.Equal(t, 900, data.ExpiresIn)
	assert.Empty(t, data.User)
	assert.Equal(t, []string{"read"}, data.Scopes)
}

func TestClient_ValidateToken(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	t.Run("inactive", func(t *testing.T) {
		v, err := c.ValidateToken(context.Background(), "Bearer revoked-token")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Empty(t, v.User)
	})

	t.Run("active", func(t *testing.T) {
		v, err := c.ValidateToken(context.Background(), "Bearer active-token")
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Equal(t, "alice", v.User)
		assert.Equal(t, "P000123", v.Subject)
		assert.Equal(t, []string{"read", "write"}, v.Scopes)
		assert.Equal(t, 2030, v.ExpiresAt.UTC().Year())
		assert.Equal(t, "tenant-1", v.Claims["zone_uuid"])
	})

	t.Run("unsigned jwt is not trusted", func(t *testing.T) {
		// A syntactically valid JWT the provider does not know.
		jwt := "eyJhbGciOiJub25lIn0.eyJzdWIiOiJtYWxsb3J5In0."
		v, err := c.ValidateToken(context.Background(), jwt)
		require.NoError(t, err)
		assert.False(t, v.Valid)
	})
}

func TestClient_GetUserInfo(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	info, err := c.GetUserInfo(context.Background(), "at-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.User)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, []string{"SAP_ADMINS"}, info.Groups)

	_, err = c.GetUserInfo(context.Background(), "unknown")
	assert.True(t, errors.Is(err, api.ErrTokenExchangeFailed))
}

func TestClient_RevokeToken(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	require.NoError(t, c.RevokeToken(context.Background(), "Bearer at-alice", "access_token"))
	assert.Equal(t, "at-alice", f.revoked.Load())
}

func TestClient_AuthorizationURL(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)

	raw, err := c.AuthorizationURL(context.Background(), "state-1", "http://localhost:3000/callback", "verifier")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/oauth2/authorize"))

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "client", q.Get("client_id"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "http://localhost:3000/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid email", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, "verifier", q.Get("code_challenge"))
}

func TestClient_Discovery(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f, func(cfg *config.IASConfig) { cfg.Discovery = true })

	eps, err := c.Endpoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.URL+"/custom/authorize", eps.Authorize)
	assert.Equal(t, f.URL+"/oauth2/token", eps.Token)
	assert.Equal(t, f.URL+"/oauth2/introspect", eps.Introspect, "fixed path when not advertised")
}

func TestClient_ProviderUnreachable(t *testing.T) {
	f := newFakeIAS(t)
	c := newTestClient(f)
	f.Close()

	_, err := c.GetClientCredentialsToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrTokenExchangeFailed))

	var exErr *api.TokenExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.Zero(t, exErr.Status)
}
