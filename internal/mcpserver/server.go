package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"odatamcp/internal/api"
	"odatamcp/internal/ias"
	"odatamcp/internal/odata"
	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
)

const (
	serverName = "odatamcp"
	adminScope = "admin"
)

// Backend is the OData client as used by the tools.
type Backend interface {
	Discover(ctx context.Context, auth api.AuthContext, opts odata.QueryOptions) (*odata.Response, error)
	Metadata(ctx context.Context, auth api.AuthContext, servicePath string) (*odata.Response, error)
	ReadEntitySet(ctx context.Context, auth api.AuthContext, servicePath, entitySet string, opts odata.QueryOptions) (*odata.Response, error)
	ReadEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet, key string, opts odata.QueryOptions) (*odata.Response, error)
	CreateEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet string, data interface{}) (*odata.Response, error)
	UpdateEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet, key string, data interface{}) (*odata.Response, error)
	DeleteEntity(ctx context.Context, auth api.AuthContext, servicePath, entitySet, key string) (*odata.Response, error)
}

// SessionLookup resolves x-mcp-session-id to a live session.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// TokenValidator checks a bearer token against the identity provider.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*ias.Validation, error)
}

// Option configures a Server.
type Option func(*Server)

// WithTokenValidator lets bearer callers use the modifying tools once their
// token is active and carries the tool's scope.
func WithTokenValidator(v TokenValidator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

// Server binds the OData tools to an MCP server.
type Server struct {
	backend   Backend
	sessions  SessionLookup
	validator TokenValidator

	mcp        *server.MCPServer
	streamable *server.StreamableHTTPServer
}

// New creates the MCP server and registers the tools.
func New(backend Backend, sessions SessionLookup, version string, opts ...Option) *Server {
	s := &Server{
		backend:  backend,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()

	s.streamable = server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(httpContext),
	)
	return s
}

// Handler is the streamable HTTP endpoint.
func (s *Server) Handler() http.Handler {
	return s.streamable
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// authorize builds the caller identity for one tool call. A bearer token
// wins over a session; with neither the call is anonymous.
//
// With an empty scope any caller is accepted and the destination decides what
// the call may see. Otherwise the caller must hold scope, or admin: session
// callers through their stored scopes, bearer callers through introspection.
// Anonymous callers hold no scopes.
func (s *Server) authorize(ctx context.Context, scope string) (api.AuthContext, error) {
	req := requestAuthFrom(ctx)

	if req.token != "" {
		auth := api.AuthContext{
			JWT:       req.token,
			SessionID: req.sessionID,
			User:      api.TokenSubject(req.token),
		}
		if scope == "" {
			return auth, nil
		}
		return s.authorizeBearer(ctx, auth, scope)
	}

	if req.sessionID == "" || s.sessions == nil {
		if scope != "" {
			return api.AuthContext{}, &api.AuthorizationError{RequiredScope: scope}
		}
		return api.AuthContext{}, nil
	}

	sess, err := s.sessions.Get(ctx, req.sessionID)
	if err != nil {
		return api.AuthContext{}, err
	}
	if sess == nil {
		logging.Debug("MCP", "Session %s unknown or expired", logging.TruncateSessionID(req.sessionID))
		return api.AuthContext{}, api.ErrInvalidToken
	}

	auth := api.AuthContext{
		JWT:       sess.Token,
		SessionID: sess.ID,
		User:      sess.User,
		Scopes:    sess.Scopes,
	}
	if err := requireScope(auth, scope); err != nil {
		return api.AuthContext{}, err
	}
	return auth, nil
}

func (s *Server) authorizeBearer(ctx context.Context, auth api.AuthContext, scope string) (api.AuthContext, error) {
	if s.validator == nil {
		return api.AuthContext{}, &api.AuthorizationError{RequiredScope: scope}
	}

	v, err := s.validator.ValidateToken(ctx, auth.JWT)
	if err != nil {
		return api.AuthContext{}, err
	}
	if v == nil || !v.Valid {
		logging.Debug("MCP", "Bearer token rejected by introspection")
		return api.AuthContext{}, api.ErrInvalidToken
	}

	if v.User != "" {
		auth.User = v.User
	}
	auth.Scopes = v.Scopes
	if err := requireScope(auth, scope); err != nil {
		return api.AuthContext{}, err
	}
	return auth, nil
}

func requireScope(auth api.AuthContext, scope string) error {
	if scope == "" || auth.HasScope(adminScope) {
		return nil
	}
	return auth.RequireScope(scope)
}
