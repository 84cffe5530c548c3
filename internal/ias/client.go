package ias

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/internal/metrics"
	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
	"odatamcp/pkg/oauth"
)

// SystemUser is the user recorded for client credentials sessions.
const SystemUser = "system"

// DefaultTechnicalScopes are granted to client credentials sessions when the
// provider does not report a scope.
var DefaultTechnicalScopes = []string{"read", "write", "delete", "admin", "discovery"}

const (
	authorizePath  = "/oauth2/authorize"
	tokenPath      = "/oauth2/token"
	userInfoPath   = "/oauth2/userinfo"
	introspectPath = "/oauth2/introspect"
	revokePath     = "/oauth2/revoke"

	defaultTimeout = 30 * time.Second
)

// Endpoints are the provider URLs used by the client.
type Endpoints struct {
	Authorize  string
	Token      string
	UserInfo   string
	Introspect string
	Revoke     string
}

// Validation is the outcome of ValidateToken.
type Validation struct {
	Valid     bool
	Subject   string
	User      string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Claims    map[string]interface{}
}

// UserInfo is the normalized userinfo document.
type UserInfo struct {
	// User is preferred_username, else email, else sub.
	User    string
	Subject string
	Email   string
	Groups  []string
	Scopes  []string
	Claims  oauth.UserInfo
}

// Client runs OAuth2 grants against SAP Identity Authentication Service and
// turns the results into session.TokenData. It holds no per-user state.
type Client struct {
	cfg     config.IASConfig
	oauth   *oauth.Client
	scopes  *ScopeMapper
	metrics *metrics.Metrics

	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for provider calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMetrics records grant outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates an IAS client. A client with incomplete configuration is
// valid; every call on it fails with a configuration error.
func NewClient(cfg config.IASConfig, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		scopes: NewScopeMapper(cfg.ScopeMapping),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	c.oauth = oauth.NewClient(
		oauth.WithHTTPClient(c.httpClient),
		oauth.WithLogger(logging.Logger().With("subsystem", "IAS")),
	)
	return c
}

// IsProperlyConfigured reports whether URL, client id and secret are set.
func (c *Client) IsProperlyConfigured() bool {
	return len(c.missing()) == 0
}

func (c *Client) missing() []string {
	var missing []string
	if c.cfg.URL == "" {
		missing = append(missing, "url")
	}
	if c.cfg.ClientID == "" {
		missing = append(missing, "clientID")
	}
	if c.cfg.ClientSecret == "" {
		missing = append(missing, "clientSecret")
	}
	return missing
}

func (c *Client) requireConfigured() error {
	if missing := c.missing(); len(missing) > 0 {
		return &api.ConfigurationError{Component: "ias", Missing: missing}
	}
	return nil
}

func (c *Client) credentials() oauth.ClientCredentials {
	return oauth.ClientCredentials{ID: c.cfg.ClientID, Secret: c.cfg.ClientSecret}
}

// Endpoints returns the provider URLs, from OIDC discovery when enabled.
func (c *Client) Endpoints(ctx context.Context) (Endpoints, error) {
	if err := c.requireConfigured(); err != nil {
		return Endpoints{}, err
	}

	base := strings.TrimSuffix(c.cfg.URL, "/")
	eps := Endpoints{
		Authorize:  base + authorizePath,
		Token:      base + tokenPath,
		UserInfo:   base + userInfoPath,
		Introspect: base + introspectPath,
		Revoke:     base + revokePath,
	}
	if !c.cfg.Discovery {
		return eps, nil
	}

	md, err := c.oauth.DiscoverMetadata(ctx, base)
	if err != nil {
		return Endpoints{}, c.providerError("discovery", err)
	}
	eps.Token = md.TokenEndpoint
	if md.AuthorizationEndpoint != "" {
		eps.Authorize = md.AuthorizationEndpoint
	}
	if md.UserinfoEndpoint != "" {
		eps.UserInfo = md.UserinfoEndpoint
	}
	if md.IntrospectionEndpoint != "" {
		eps.Introspect = md.IntrospectionEndpoint
	}
	if md.RevocationEndpoint != "" {
		eps.Revoke = md.RevocationEndpoint
	}
	return eps, nil
}

// AuthorizationURL builds the authorization code request URL with an S256
// challenge derived from verifier.
func (c *Client) AuthorizationURL(ctx context.Context, state, redirectURI, verifier string) (string, error) {
	eps, err := c.Endpoints(ctx)
	if err != nil {
		return "", err
	}

	cfg := oauth2.Config{
		ClientID:    c.cfg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: eps.Authorize, TokenURL: eps.Token},
		RedirectURL: redirectURI,
		Scopes:      c.cfg.Scopes,
	}
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// ExchangeCodeForTokens redeems an authorization code and resolves the user
// through the userinfo endpoint.
func (c *Client) ExchangeCodeForTokens(ctx context.Context, code, redirectURI, verifier string) (*session.TokenData, error) {
	form := url.Values{
		"grant_type":   {oauth.GrantAuthorizationCode},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}

	tok, err := c.grant(ctx, oauth.GrantAuthorizationCode, form)
	if err != nil {
		return nil, err
	}
	return c.withUser(ctx, oauth.GrantAuthorizationCode, tok)
}

// AuthenticateUser runs the resource owner password grant.
//
// Deprecated: kept for the CLI and legacy /login clients. Use the
// authorization code flow.
func (c *Client) AuthenticateUser(ctx context.Context, username, password string) (*session.TokenData, error) {
	form := url.Values{
		"grant_type": {oauth.GrantPassword},
		"username":   {username},
		"password":   {password},
	}
	if len(c.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(c.cfg.Scopes, " "))
	}

	tok, err := c.grant(ctx, oauth.GrantPassword, form)
	if err != nil {
		return nil, err
	}
	return c.withUser(ctx, oauth.GrantPassword, tok)
}

// GetClientCredentialsToken obtains a technical user token.
func (c *Client) GetClientCredentialsToken(ctx context.Context) (*session.TokenData, error) {
	form := url.Values{"grant_type": {oauth.GrantClientCredentials}}

	tok, err := c.grant(ctx, oauth.GrantClientCredentials, form)
	if err != nil {
		return nil, err
	}

	data := tokenData(tok)
	data.User = SystemUser
	if len(data.Scopes) == 0 {
		data.Scopes = append([]string(nil), DefaultTechnicalScopes...)
	} else {
		data.Scopes = c.scopes.Map(data.Scopes, nil)
	}
	return data, nil
}

// RefreshToken redeems a refresh token. The original refresh token is kept
// when the provider does not rotate it. User is left empty and Scopes only
// reflect the token response; sessions keep their stored user and scopes.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*session.TokenData, error) {
	form := url.Values{
		"grant_type":    {oauth.GrantRefreshToken},
		"refresh_token": {refreshToken},
	}

	tok, err := c.grant(ctx, oauth.GrantRefreshToken, form)
	if err != nil {
		return nil, err
	}

	data := tokenData(tok)
	if data.RefreshToken == "" {
		data.RefreshToken = refreshToken
	}
	data.Scopes = c.scopes.Map(data.Scopes, nil)
	return data, nil
}

// ValidateToken asks the introspection endpoint whether token is active.
// An inactive token yields Valid=false and no error.
func (c *Client) ValidateToken(ctx context.Context, token string) (*Validation, error) {
	eps, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.oauth.Introspect(ctx, eps.Introspect, c.credentials(), api.StripBearer(token))
	if err != nil {
		return nil, c.providerError("introspection", err)
	}
	if !result.Active {
		return &Validation{Valid: false}, nil
	}

	v := &Validation{
		Valid:    true,
		Subject:  result.Subject,
		User:     firstNonEmpty(result.Username, result.Email, result.Subject),
		ClientID: result.ClientID,
		Scopes:   c.scopes.Map(strings.Fields(result.Scope), nil),
		Claims:   result.Extra,
	}
	if result.ExpiresAt > 0 {
		v.ExpiresAt = time.Unix(result.ExpiresAt, 0)
	}
	return v, nil
}

// GetUserInfo fetches and normalizes the userinfo document.
func (c *Client) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	eps, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	claims, err := c.oauth.UserInfo(ctx, eps.UserInfo, api.StripBearer(accessToken))
	if err != nil {
		return nil, c.providerError("userinfo", err)
	}

	info := &UserInfo{
		Subject: claims.String("sub"),
		Email:   claims.String("email"),
		Groups:  claims.Strings("groups"),
		Scopes:  claims.Strings("scope"),
		Claims:  claims,
	}
	info.User = firstNonEmpty(claims.String("preferred_username"), info.Email, info.Subject)
	if info.User == "" {
		return nil, &api.TokenExchangeError{Grant: "userinfo", Reason: "userinfo has no user identifier"}
	}
	return info, nil
}

// RevokeToken revokes an access or refresh token. hint may be empty.
func (c *Client) RevokeToken(ctx context.Context, token, hint string) error {
	eps, err := c.Endpoints(ctx)
	if err != nil {
		return err
	}
	if err := c.oauth.Revoke(ctx, eps.Revoke, c.credentials(), api.StripBearer(token), hint); err != nil {
		return c.providerError("revocation", err)
	}
	return nil
}

func (c *Client) grant(ctx context.Context, grantType string, form url.Values) (*oauth.Token, error) {
	eps, err := c.Endpoints(ctx)
	if err != nil {
		return nil, err
	}

	tok, err := c.oauth.RequestToken(ctx, eps.Token, c.credentials(), form)
	c.metrics.ObserveGrant(grantType, err)
	if err != nil {
		logging.Warn("IAS", "Grant %s failed: %v", grantType, err)
		return nil, c.providerError(grantType, err)
	}

	logging.Debug("IAS", "Grant %s succeeded, expires_in=%d", grantType, tok.ExpiresIn)
	return tok, nil
}

// withUser resolves the user for tok and folds userinfo scopes and groups
// into the session scopes.
func (c *Client) withUser(ctx context.Context, grantType string, tok *oauth.Token) (*session.TokenData, error) {
	info, err := c.GetUserInfo(ctx, tok.AccessToken)
	if err != nil {
		var tokenErr *api.TokenExchangeError
		if errors.As(err, &tokenErr) {
			tokenErr.Grant = grantType
		}
		return nil, err
	}

	data := tokenData(tok)
	data.User = info.User
	data.Scopes = c.scopes.Map(append(data.Scopes, info.Scopes...), info.Groups)
	return data, nil
}

// providerError turns a pkg/oauth failure into the api error taxonomy.
// Provider bodies are never included.
func (c *Client) providerError(grant string, err error) error {
	var tokenErr *oauth.TokenError
	if errors.As(err, &tokenErr) {
		reason := tokenErr.Code
		if reason == "" {
			reason = http.StatusText(tokenErr.Status)
		}
		return &api.TokenExchangeError{Grant: grant, Status: tokenErr.Status, Reason: reason, Err: err}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &api.TokenExchangeError{Grant: grant, Reason: "identity provider timed out", Err: err}
	}
	return &api.TokenExchangeError{Grant: grant, Reason: "identity provider request failed", Err: err}
}

func tokenData(tok *oauth.Token) *session.TokenData {
	return &session.TokenData{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
		Scopes:       tok.Scopes(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
