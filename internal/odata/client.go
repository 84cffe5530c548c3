package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/internal/destination"
	"odatamcp/internal/metrics"
	"odatamcp/pkg/logging"
)

const (
	// MethodMerge is the OData v2 partial update verb.
	MethodMerge = "MERGE"

	csrfHeader = "X-CSRF-Token"

	defaultTimeout  = 60 * time.Second
	maxResponseSize = 32 << 20
)

// Resolver resolves the destination for a request.
type Resolver interface {
	Resolve(ctx context.Context, dctx destination.Context, auth api.AuthContext) (*destination.Resolution, error)
}

// Request is one backend call.
type Request struct {
	Method string

	// Path is appended to the destination URL, e.g.
	// /sap/opu/odata/sap/API_BUSINESS_PARTNER/A_BusinessPartner.
	Path  string
	Query url.Values

	// Body is JSON-encoded when not nil.
	Body interface{}

	Header http.Header
	Auth   api.AuthContext

	// Context overrides the destination context derived from Method and Path.
	Context *destination.Context
}

// Response is a successful backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Destination is the name of the destination the request went to.
	Destination string
	Propagation destination.Propagation
}

// Data decodes a JSON body and unwraps the OData envelope: v2 {"d": ...} and
// {"d": {"results": [...]}}, v4 {"value": [...]}. An empty body yields nil.
func (r *Response) Data() (interface{}, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil, nil
	}

	var doc interface{}
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return nil, fmt.Errorf("backend response is not JSON: %w", err)
	}

	obj, ok := doc.(map[string]interface{})
	if !ok {
		return doc, nil
	}
	if d, ok := obj["d"]; ok {
		if inner, ok := d.(map[string]interface{}); ok {
			if results, ok := inner["results"]; ok {
				return results, nil
			}
		}
		return d, nil
	}
	if value, ok := obj["value"]; ok {
		return value, nil
	}
	return obj, nil
}

// Client sends OData requests to SAP through resolved destinations.
type Client struct {
	resolver    Resolver
	transport   http.RoundTripper
	timeout     time.Duration
	catalogPath string
	metrics     *metrics.Metrics
}

// Option configures the client.
type Option func(*Client)

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithTimeout bounds each backend request, CSRF fetch included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCatalogPath sets the service catalog used by Discover.
func WithCatalogPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.catalogPath = path
		}
	}
}

// WithMetrics records backend request outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a client over resolver.
func NewClient(resolver Resolver, opts ...Option) *Client {
	c := &Client{
		resolver:    resolver,
		transport:   http.DefaultTransport,
		timeout:     defaultTimeout,
		catalogPath: config.DefaultCatalogPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ContextForRequest maps a verb and path to a destination context. Reads go
// to the design-time destination; writes act as the end user on the runtime
// destination.
func ContextForRequest(method, path string) destination.Context {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return destination.Context{Type: destination.DesignTime, Operation: readOperation(path)}
	case http.MethodPost:
		return destination.Context{Type: destination.Runtime, Operation: destination.OpCreate}
	case http.MethodPut, http.MethodPatch, MethodMerge:
		return destination.Context{Type: destination.Runtime, Operation: destination.OpUpdate}
	case http.MethodDelete:
		return destination.Context{Type: destination.Runtime, Operation: destination.OpDelete}
	default:
		return destination.Context{Type: destination.Runtime, Operation: destination.OpRead}
	}
}

func readOperation(path string) destination.Operation {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch {
	case strings.HasSuffix(path, "$metadata"):
		return destination.OpMetadata
	case strings.Contains(strings.ToUpper(path), "CATALOGSERVICE"), strings.HasSuffix(path, "/"):
		return destination.OpDiscovery
	default:
		return destination.OpRead
	}
}

// ExecuteRequest resolves the destination and sends req.
func (c *Client) ExecuteRequest(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	dctx := ContextForRequest(method, req.Path)
	if req.Context != nil {
		dctx = *req.Context
	}

	res, err := c.resolver.Resolve(ctx, dctx, req.Auth)
	if err != nil {
		return nil, err
	}

	target, err := buildURL(res.Destination, req.Path, req.Query)
	if err != nil {
		return nil, err
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// One jar per call so the CSRF session cookie never crosses requests.
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	hc := &http.Client{Transport: c.transport, Jar: jar}

	var csrfToken string
	if isWrite(method) {
		csrfToken = c.fetchCSRFToken(ctx, hc, res, target, req.Auth)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", acceptFor(dctx.Operation))
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if csrfToken != "" {
		httpReq.Header.Set(csrfHeader, csrfToken)
	}
	applyAuth(httpReq, res, req.Auth)

	start := time.Now()
	resp, err := hc.Do(httpReq)
	if err != nil {
		c.metrics.ObserveBackend(method, 0)
		logging.Warn("OData", "%s %s via %q failed: %v", method, req.Path, res.Name, err)
		return nil, &api.BackendError{Message: "SAP backend unreachable", Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveBackend(method, resp.StatusCode)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &api.BackendError{Status: resp.StatusCode, Message: "failed to read backend response", Err: err}
	}

	logging.Debug("OData", "%s %s via %s destination %q: %d in %s",
		method, req.Path, res.Type, res.Name, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendError(resp.StatusCode, respBody)
	}

	return &Response{
		Status:      resp.StatusCode,
		Header:      resp.Header,
		Body:        respBody,
		Destination: res.Name,
		Propagation: res.Propagation,
	}, nil
}

// fetchCSRFToken asks the backend for a CSRF token on the write target. A
// failure is not fatal: the backend rejects the write with a readable error.
func (c *Client) fetchCSRFToken(ctx context.Context, hc *http.Client, res *destination.Resolution, target string, auth api.AuthContext) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return ""
	}
	req.Header.Set(csrfHeader, "Fetch")
	applyAuth(req, res, auth)

	resp, err := hc.Do(req)
	if err != nil {
		logging.Debug("OData", "CSRF token fetch on %q failed: %v", res.Name, err)
		return ""
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	resp.Body.Close()

	token := resp.Header.Get(csrfHeader)
	if token == "" || strings.EqualFold(token, "Required") {
		logging.Debug("OData", "No CSRF token issued by %q (status %d)", res.Name, resp.StatusCode)
		return ""
	}
	return token
}

// applyAuth sets the credentials for the resolution's effective
// authentication mode.
func applyAuth(req *http.Request, res *destination.Resolution, auth api.AuthContext) {
	dest := res.Destination
	switch res.EffectiveAuthentication() {
	case destination.NoAuthentication:
		return
	case destination.BasicAuthentication:
		req.SetBasicAuth(dest.User, dest.Password)
		return
	}

	if applyAuthToken(req, dest) {
		return
	}
	if jwt := auth.CleanJWT(); jwt != "" && res.EffectiveAuthentication() == destination.PrincipalPropagation {
		req.Header.Set("Authorization", "Bearer "+jwt)
		return
	}
	logging.Debug("OData", "No credentials available for %s destination %q", dest.AuthenticationMode, dest.Name)
}

// applyAuthToken uses the first usable token the destination service
// attached to the destination.
func applyAuthToken(req *http.Request, dest *destination.Destination) bool {
	for _, t := range dest.AuthTokens {
		if t.Error != "" || t.Value == "" {
			continue
		}
		if t.HeaderName != "" && t.HeaderValue != "" {
			req.Header.Set(t.HeaderName, t.HeaderValue)
			return true
		}
		tokenType := t.Type
		if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
			tokenType = "Bearer"
		}
		req.Header.Set("Authorization", tokenType+" "+t.Value)
		return true
	}
	return false
}

func buildURL(dest *destination.Destination, path string, query url.Values) (string, error) {
	base, err := url.Parse(dest.URL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", &api.BackendError{Message: fmt.Sprintf("destination %q has an invalid URL", dest.Name)}
	}

	rawPath, rawQuery := path, ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		rawPath, rawQuery = path[:i], path[i+1:]
	}

	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	if client := dest.Properties["sap-client"]; client != "" && q.Get("sap-client") == "" {
		q.Set("sap-client", client)
	}

	u := strings.TrimSuffix(base.Scheme+"://"+base.Host+joinPath(base.Path, rawPath), "/")
	if strings.HasSuffix(rawPath, "/") {
		u += "/"
	}

	encoded := encodeQuery(q)
	switch {
	case rawQuery != "" && encoded != "":
		u += "?" + rawQuery + "&" + encoded
	case rawQuery != "":
		u += "?" + rawQuery
	case encoded != "":
		u += "?" + encoded
	}
	return u, nil
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, MethodMerge:
		return true
	}
	return false
}

func acceptFor(op destination.Operation) string {
	if op == destination.OpMetadata {
		return "application/xml"
	}
	return "application/json"
}
