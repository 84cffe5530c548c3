package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatamcp/internal/api"
	"odatamcp/internal/destination"
	"odatamcp/internal/ias"
	"odatamcp/internal/odata"
	"odatamcp/internal/session"
)

type backendCall struct {
	Op          string
	Auth        api.AuthContext
	ServicePath string
	EntitySet   string
	Key         string
	Opts        odata.QueryOptions
	Data        interface{}
}

type fakeBackend struct {
	mu    sync.Mutex
	calls []backendCall
	resp  *odata.Response
	err   error
}

func (f *fakeBackend) record(c backendCall) (*odata.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &odata.Response{
		Status:      http.StatusOK,
		Body:        []byte(`{"d":{"results":[{"BusinessPartner":"1000"}]}}`),
		Destination: "SAP_RUNTIME",
		Propagation: destination.PropagationActive,
	}, nil
}

func (f *fakeBackend) last(t *testing.T) backendCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func (f *fakeBackend) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) Discover(_ context.Context, auth api.AuthContext, opts odata.QueryOptions) (*odata.Response, error) {
	return f.record(backendCall{Op: "discover", Auth: auth, Opts: opts})
}

func (f *fakeBackend) Metadata(_ context.Context, auth api.AuthContext, servicePath string) (*odata.Response, error) {
	return f.record(backendCall{Op: "metadata", Auth: auth, ServicePath: servicePath})
}

func (f *fakeBackend) ReadEntitySet(_ context.Context, auth api.AuthContext, servicePath, entitySet string, opts odata.QueryOptions) (*odata.Response, error) {
	return f.record(backendCall{Op: "read_set", Auth: auth, ServicePath: servicePath, EntitySet: entitySet, Opts: opts})
}

func (f *fakeBackend) ReadEntity(_ context.Context, auth api.AuthContext, servicePath, entitySet, key string, opts odata.QueryOptions) (*odata.Response, error) {
	return f.record(backendCall{Op: "read", Auth: auth, ServicePath: servicePath, EntitySet: entitySet, Key: key, Opts: opts})
}

func (f *fakeBackend) CreateEntity(_ context.Context, auth api.AuthContext, servicePath, entitySet string, data interface{}) (*odata.Response, error) {
	return f.record(backendCall{Op: "create", Auth: auth, ServicePath: servicePath, EntitySet: entitySet, Data: data})
}

func (f *fakeBackend) UpdateEntity(_ context.Context, auth api.AuthContext, servicePath, entitySet, key string, data interface{}) (*odata.Response, error) {
	return f.record(backendCall{Op: "update", Auth: auth, ServicePath: servicePath, EntitySet: entitySet, Key: key, Data: data})
}

func (f *fakeBackend) DeleteEntity(_ context.Context, auth api.AuthContext, servicePath, entitySet, key string) (*odata.Response, error) {
	return f.record(backendCall{Op: "delete", Auth: auth, ServicePath: servicePath, EntitySet: entitySet, Key: key})
}

func newTestServer(t *testing.T) (*Server, *fakeBackend, *session.Store) {
	t.Helper()
	store := session.NewStore(session.NewMemoryBackend(), session.WithSweepInterval(0))
	t.Cleanup(func() { _ = store.Shutdown() })

	backend := &fakeBackend{}
	return New(backend, store, "test"), backend, store
}

func newSession(t *testing.T, store *session.Store, user string, scopes ...string) string {
	t.Helper()
	id, err := store.Create(context.Background(), session.TokenData{
		AccessToken: "token-of-" + user,
		ExpiresIn:   3600,
		Scopes:      scopes,
		User:        user,
	}, session.ClientInfo{}, "")
	require.NoError(t, err)
	return id
}

// rpc sends one JSON-RPC request through the MCP server and decodes the
// result member into out.
func rpc(t *testing.T, s *Server, ctx context.Context, method string, params interface{}, out interface{}) {
	t.Helper()
	msg, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.mcp.HandleMessage(ctx, msg))
	require.NoError(t, err)

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.Nil(t, envelope.Error, "rpc error: %s", raw)
	require.NoError(t, json.Unmarshal(envelope.Result, out))
}

func callTool(t *testing.T, s *Server, ctx context.Context, name string, args map[string]interface{}) (string, bool) {
	t.Helper()
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	rpc(t, s, ctx, "tools/call", map[string]interface{}{"name": name, "arguments": args}, &result)
	require.Len(t, result.Content, 1)
	require.Equal(t, "text", result.Content[0].Type)
	return result.Content[0].Text, result.IsError
}

func sessionCtx(id string) context.Context {
	return withRequestAuth(context.Background(), requestAuth{sessionID: id})
}

func TestNew_RegistersTools(t *testing.T) {
	s, _, _ := newTestServer(t)

	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	rpc(t, s, context.Background(), "tools/list", map[string]interface{}{}, &list)

	var tools []string
	for _, tool := range list.Tools {
		tools = append(tools, tool.Name)
	}
	for _, name := range []string{
		ToolDiscoverServices,
		ToolGetMetadata,
		ToolReadEntitySet,
		ToolReadEntity,
		ToolCreateEntity,
		ToolUpdateEntity,
		ToolDeleteEntity,
	} {
		assert.Contains(t, tools, name)
	}
	assert.Len(t, tools, 7)
}

func TestHTTPContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	r.Header.Set(api.SessionHeader, "session-1")

	got := requestAuthFrom(httpContext(context.Background(), r))
	assert.Equal(t, "abc.def.ghi", got.token)
	assert.Equal(t, "session-1", got.sessionID)

	empty := requestAuthFrom(httpContext(context.Background(), httptest.NewRequest(http.MethodPost, "/mcp", nil)))
	assert.Equal(t, requestAuth{}, empty)
}

func TestReadEntitySet(t *testing.T) {
	s, backend, store := newTestServer(t)
	id := newSession(t, store, "alice")

	text, isErr := callTool(t, s, sessionCtx(id), ToolReadEntitySet, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
		"filter":       "BusinessPartnerCategory eq '1'",
		"select":       "BusinessPartner, BusinessPartnerName",
		"top":          float64(5),
		"count":        true,
	})
	require.False(t, isErr, text)

	call := backend.last(t)
	assert.Equal(t, "read_set", call.Op)
	assert.Equal(t, "/sap/opu/odata/sap/API_BUSINESS_PARTNER", call.ServicePath)
	assert.Equal(t, "A_BusinessPartner", call.EntitySet)
	assert.Equal(t, "BusinessPartnerCategory eq '1'", call.Opts.Filter)
	assert.Equal(t, []string{"BusinessPartner", "BusinessPartnerName"}, call.Opts.Select)
	assert.Equal(t, 5, call.Opts.Top)
	assert.True(t, call.Opts.Count)
	assert.Equal(t, "alice", call.Auth.User)
	assert.Equal(t, "token-of-alice", call.Auth.JWT)
	assert.Equal(t, id, call.Auth.SessionID)

	var result toolResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "SAP_RUNTIME", result.Destination)
	assert.Equal(t, string(destination.PropagationActive), result.Propagation)
	assert.Equal(t, http.StatusOK, result.Status)
	assert.Equal(t, []interface{}{map[string]interface{}{"BusinessPartner": "1000"}}, result.Data)
}

type fakeValidator struct {
	tokens map[string]*ias.Validation
	err    error
	calls  int
}

func (f *fakeValidator) ValidateToken(_ context.Context, token string) (*ias.Validation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.tokens[token]; ok {
		return v, nil
	}
	return &ias.Validation{Valid: false}, nil
}

func bearerCtx(token string) context.Context {
	return withRequestAuth(context.Background(), requestAuth{token: token})
}

var deleteArgs = map[string]interface{}{
	"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
	"entity_set":   "A_BusinessPartner",
	"key":          "1000",
}

func TestAnonymousAndBearerCallers(t *testing.T) {
	s, backend, _ := newTestServer(t)

	_, isErr := callTool(t, s, context.Background(), ToolDiscoverServices, map[string]interface{}{"search": "BUSINESS"})
	require.False(t, isErr)
	call := backend.last(t)
	assert.False(t, call.Auth.HasJWT())
	assert.Equal(t, "BUSINESS", call.Opts.Search)

	_, isErr = callTool(t, s, bearerCtx("bearer-token"), ToolReadEntity, deleteArgs)
	require.False(t, isErr)
	call = backend.last(t)
	assert.Equal(t, "read", call.Op)
	assert.Equal(t, "bearer-token", call.Auth.JWT)
}

func TestModifyingTools_RequireAuthenticatedCaller(t *testing.T) {
	s, backend, _ := newTestServer(t)

	text, isErr := callTool(t, s, context.Background(), ToolDeleteEntity, deleteArgs)
	assert.True(t, isErr)
	assert.Equal(t, `authorization_denied: authorization denied: scope "delete" required`, text)

	text, isErr = callTool(t, s, bearerCtx("garbage"), ToolDeleteEntity, deleteArgs)
	assert.True(t, isErr)
	assert.Contains(t, text, `scope "delete" required`)

	assert.Equal(t, 0, backend.count())
}

func TestModifyingTools_BearerIntrospection(t *testing.T) {
	store := session.NewStore(session.NewMemoryBackend(), session.WithSweepInterval(0))
	t.Cleanup(func() { _ = store.Shutdown() })
	backend := &fakeBackend{}
	validator := &fakeValidator{tokens: map[string]*ias.Validation{
		"reader-token":  {Valid: true, User: "reader", Scopes: []string{"read"}},
		"deleter-token": {Valid: true, User: "deleter", Scopes: []string{"read", "delete"}},
		"admin-token":   {Valid: true, User: "root", Scopes: []string{"admin"}},
	}}
	s := New(backend, store, "test", WithTokenValidator(validator))

	text, isErr := callTool(t, s, bearerCtx("garbage"), ToolDeleteEntity, deleteArgs)
	assert.True(t, isErr)
	assert.Equal(t, "invalid_token: invalid or expired token", text)

	text, isErr = callTool(t, s, bearerCtx("reader-token"), ToolDeleteEntity, deleteArgs)
	assert.True(t, isErr)
	assert.Contains(t, text, `scope "delete" required`)
	assert.Equal(t, 0, backend.count())

	_, isErr = callTool(t, s, bearerCtx("deleter-token"), ToolDeleteEntity, deleteArgs)
	require.False(t, isErr)
	call := backend.last(t)
	assert.Equal(t, "delete", call.Op)
	assert.Equal(t, "deleter-token", call.Auth.JWT)
	assert.Equal(t, "deleter", call.Auth.User)

	_, isErr = callTool(t, s, bearerCtx("admin-token"), ToolDeleteEntity, deleteArgs)
	require.False(t, isErr)
	assert.Equal(t, "root", backend.last(t).Auth.User)

	// Reads never introspect.
	calls := validator.calls
	_, isErr = callTool(t, s, bearerCtx("garbage"), ToolReadEntity, deleteArgs)
	require.False(t, isErr)
	assert.Equal(t, calls, validator.calls)
}

func TestModifyingTools_IntrospectionFailure(t *testing.T) {
	store := session.NewStore(session.NewMemoryBackend(), session.WithSweepInterval(0))
	t.Cleanup(func() { _ = store.Shutdown() })
	backend := &fakeBackend{}
	s := New(backend, store, "test", WithTokenValidator(&fakeValidator{err: &api.ConfigurationError{Component: "ias", Missing: []string{"url"}}}))

	text, isErr := callTool(t, s, bearerCtx("any"), ToolDeleteEntity, deleteArgs)
	assert.True(t, isErr)
	assert.Contains(t, text, "configuration_error")
	assert.Equal(t, 0, backend.count())
}

func TestWriteScopes(t *testing.T) {
	s, backend, store := newTestServer(t)
	reader := newSession(t, store, "reader", "read")
	writer := newSession(t, store, "writer", "read", "write")
	admin := newSession(t, store, "root", "admin")

	args := map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
		"data":         map[string]interface{}{"BusinessPartnerCategory": "1"},
	}

	text, isErr := callTool(t, s, sessionCtx(reader), ToolCreateEntity, args)
	assert.True(t, isErr)
	assert.Equal(t, `authorization_denied: authorization denied: scope "write" required`, text)
	assert.Equal(t, 0, backend.count())

	_, isErr = callTool(t, s, sessionCtx(writer), ToolCreateEntity, args)
	require.False(t, isErr)
	assert.Equal(t, map[string]interface{}{"BusinessPartnerCategory": "1"}, backend.last(t).Data)

	text, isErr = callTool(t, s, sessionCtx(writer), ToolDeleteEntity, deleteArgs)
	assert.True(t, isErr)
	assert.Contains(t, text, `scope "delete" required`)

	_, isErr = callTool(t, s, sessionCtx(admin), ToolDeleteEntity, deleteArgs)
	require.False(t, isErr)
	assert.Equal(t, "root", backend.last(t).Auth.User)
}

func TestUpdateEntity_DataAsJSONString(t *testing.T) {
	s, backend, store := newTestServer(t)
	writer := newSession(t, store, "writer", "write")

	_, isErr := callTool(t, s, sessionCtx(writer), ToolUpdateEntity, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
		"key":          "1000",
		"data":         `{"FirstName":"Ada"}`,
	})
	require.False(t, isErr)
	call := backend.last(t)
	assert.Equal(t, "update", call.Op)
	assert.Equal(t, "1000", call.Key)
	assert.Equal(t, map[string]interface{}{"FirstName": "Ada"}, call.Data)

	text, isErr := callTool(t, s, sessionCtx(writer), ToolUpdateEntity, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
		"key":          "1000",
		"data":         "not json",
	})
	assert.True(t, isErr)
	assert.Equal(t, `argument "data" must be a JSON object`, text)
}

func TestUnknownSession(t *testing.T) {
	s, backend, _ := newTestServer(t)

	text, isErr := callTool(t, s, sessionCtx("no-such-session"), ToolReadEntitySet, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
	})
	assert.True(t, isErr)
	assert.Equal(t, "invalid_token: invalid or expired token", text)
	assert.Equal(t, 0, backend.count())
}

func TestMissingArguments(t *testing.T) {
	s, backend, _ := newTestServer(t)

	_, isErr := callTool(t, s, context.Background(), ToolGetMetadata, map[string]interface{}{})
	assert.True(t, isErr)

	_, isErr = callTool(t, s, context.Background(), ToolReadEntity, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
	})
	assert.True(t, isErr)
	assert.Equal(t, 0, backend.count())
}

func TestBackendErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "destination not found",
			err:  &api.DestinationNotFoundError{Name: "SAP_RUNTIME"},
			want: "destination_not_found: ",
		},
		{
			name: "backend status",
			err:  &api.BackendError{Status: http.StatusNotFound, Message: "Resource not found for segment 'A_Foo'"},
			want: "backend_request_failed: backend request failed with status 404: Resource not found for segment 'A_Foo'",
		},
		{
			name: "configuration hides details",
			err:  &api.ConfigurationError{Component: "destination service", Missing: []string{"clientSecret"}},
			want: "configuration_error: the server is not configured for this operation",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, backend, _ := newTestServer(t)
			backend.err = tt.err

			text, isErr := callTool(t, s, context.Background(), ToolReadEntitySet, map[string]interface{}{
				"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
				"entity_set":   "A_BusinessPartner",
			})
			assert.True(t, isErr)
			assert.Contains(t, text, tt.want)
			assert.NotContains(t, text, "clientSecret")
		})
	}
}

func TestGetMetadata_ReturnsRawDocument(t *testing.T) {
	s, backend, _ := newTestServer(t)
	backend.resp = &odata.Response{
		Status:      http.StatusOK,
		Body:        []byte(`<edmx:Edmx Version="1.0"/>`),
		Destination: "SAP_DESIGN",
	}

	text, isErr := callTool(t, s, context.Background(), ToolGetMetadata, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
	})
	require.False(t, isErr)
	assert.Equal(t, `<edmx:Edmx Version="1.0"/>`, text)
	assert.Equal(t, "metadata", backend.last(t).Op)
}

func TestNonJSONBackendResponse(t *testing.T) {
	s, backend, _ := newTestServer(t)
	backend.resp = &odata.Response{Status: http.StatusOK, Body: []byte("<html>login</html>")}

	text, isErr := callTool(t, s, context.Background(), ToolReadEntity, map[string]interface{}{
		"service_path": "/sap/opu/odata/sap/API_BUSINESS_PARTNER",
		"entity_set":   "A_BusinessPartner",
		"key":          "1000",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, "backend returned a non-JSON response")
}
