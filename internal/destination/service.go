package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/pkg/logging"
)

const (
	findDestinationPath = "/destination-configuration/v1/destinations/"

	// userTokenHeader carries the end-user token for principal propagation
	// and user token exchange destinations.
	userTokenHeader = "X-user-token"

	defaultServiceTimeout = 30 * time.Second
	maxServiceResponse    = 1 << 20
)

// ServiceProvider fetches destinations from the SAP BTP destination service.
// Requests are authenticated with a client credentials token for the
// service binding; the token is cached and renewed by x/oauth2.
type ServiceProvider struct {
	baseURL    string
	httpClient *http.Client
}

// ServiceOption configures a ServiceProvider.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	base    *http.Client
	timeout time.Duration
}

// WithBaseHTTPClient sets the client used for both token and destination
// requests before the bearer token is attached.
func WithBaseHTTPClient(c *http.Client) ServiceOption {
	return func(o *serviceOptions) {
		o.base = c
	}
}

// WithTimeout bounds each destination service request.
func WithTimeout(d time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		o.timeout = d
	}
}

// NewServiceProvider creates a provider for a destination service binding.
func NewServiceProvider(cfg config.DestinationServiceConfig, opts ...ServiceOption) (*ServiceProvider, error) {
	if !cfg.Configured() {
		return nil, &api.ConfigurationError{Component: "destination service", Missing: missingServiceFields(cfg)}
	}

	o := serviceOptions{timeout: defaultServiceTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.base == nil {
		o.base = &http.Client{Timeout: o.timeout}
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	// The background context only carries the base client; token requests
	// are bounded by its timeout.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, o.base)
	client := cc.Client(tokenCtx)
	client.Timeout = o.timeout

	return &ServiceProvider{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		httpClient: client,
	}, nil
}

func missingServiceFields(cfg config.DestinationServiceConfig) []string {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"url", cfg.URL},
		{"tokenURL", cfg.TokenURL},
		{"clientID", cfg.ClientID},
		{"clientSecret", cfg.ClientSecret},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// findResponse is the "find destination" response body.
type findResponse struct {
	DestinationConfiguration map[string]interface{} `json:"destinationConfiguration"`
	AuthTokens               []struct {
		Type       string `json:"type"`
		Value      string `json:"value"`
		Error      string `json:"error"`
		HTTPHeader struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"http_header"`
	} `json:"authTokens"`
}

// Fetch implements Provider. A 404 is reported as a nil destination.
func (p *ServiceProvider) Fetch(ctx context.Context, name, jwt string) (*Destination, error) {
	endpoint := p.baseURL + findDestinationPath + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if jwt != "" {
		req.Header.Set(userTokenHeader, jwt)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, &api.BackendError{
			Status:  http.StatusBadGateway,
			Message: "destination service unreachable",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxServiceResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read destination response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		logging.Debug("Destination", "Destination service returned %d for %q", resp.StatusCode, name)
		return nil, &api.BackendError{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("destination service returned status %d", resp.StatusCode),
		}
	}

	var found findResponse
	if err := json.Unmarshal(body, &found); err != nil {
		return nil, fmt.Errorf("failed to parse destination %q: %w", name, err)
	}
	if len(found.DestinationConfiguration) == 0 {
		return nil, nil
	}

	dest := fromConfiguration(found.DestinationConfiguration)
	if dest.Name == "" {
		dest.Name = name
	}
	for _, t := range found.AuthTokens {
		if t.Error != "" {
			logging.Warn("Destination", "Destination %q auth token error: %s", name, t.Error)
		}
		dest.AuthTokens = append(dest.AuthTokens, AuthToken{
			Type:        t.Type,
			Value:       t.Value,
			HeaderName:  t.HTTPHeader.Key,
			HeaderValue: t.HTTPHeader.Value,
			Error:       t.Error,
		})
	}
	return dest, nil
}

func fromConfiguration(props map[string]interface{}) *Destination {
	dest := &Destination{Properties: make(map[string]string)}
	for k, v := range props {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "Name":
			dest.Name = s
		case "URL":
			dest.URL = s
		case "Authentication":
			dest.AuthenticationMode = AuthenticationMode(s)
		case "User":
			dest.User = s
		case "Password":
			dest.Password = s
		case "ProxyType":
			dest.ProxyType = s
		case "Type":
			// always HTTP for OData destinations
		default:
			dest.Properties[k] = s
		}
	}
	if dest.AuthenticationMode == "" {
		dest.AuthenticationMode = NoAuthentication
	}
	return dest
}
