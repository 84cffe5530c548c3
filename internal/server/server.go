package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shirou/gopsutil/v4/mem"

	"odatamcp/internal/config"
	"odatamcp/internal/ias"
	"odatamcp/internal/metrics"
	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
)

const (
	readHeaderTimeout = 10 * time.Second
	maxBodySize       = 1 << 20
)

// IdentityProvider is the IAS client as seen by the gateway.
type IdentityProvider interface {
	IsProperlyConfigured() bool
	AuthorizationURL(ctx context.Context, state, redirectURI, verifier string) (string, error)
	ExchangeCodeForTokens(ctx context.Context, code, redirectURI, verifier string) (*session.TokenData, error)
	AuthenticateUser(ctx context.Context, username, password string) (*session.TokenData, error)
	GetClientCredentialsToken(ctx context.Context) (*session.TokenData, error)
	RefreshToken(ctx context.Context, refreshToken string) (*session.TokenData, error)
	ValidateToken(ctx context.Context, token string) (*ias.Validation, error)
	GetUserInfo(ctx context.Context, accessToken string) (*ias.UserInfo, error)
	RevokeToken(ctx context.Context, token, hint string) error
}

// Deps are the collaborators of the gateway. Store and Identity are
// required; Metrics and MCP may be nil.
type Deps struct {
	Server       config.ServerConfig
	CallbackPath string

	Store    *session.Store
	Identity IdentityProvider
	Metrics  *metrics.Metrics

	// MCP is mounted at Server.MCPPath.
	MCP http.Handler
}

// Server is the auth gateway.
type Server struct {
	cfg          config.ServerConfig
	callbackPath string

	store    *session.Store
	identity IdentityProvider
	metrics  *metrics.Metrics
	mcp      http.Handler

	states  *StateStore
	limiter *ipRateLimiter
	started time.Time

	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)

	handler    http.Handler
	httpServer *http.Server
}

// New creates the gateway and builds its routes.
func New(deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity provider is required")
	}

	s := &Server{
		cfg:           deps.Server,
		callbackPath:  deps.CallbackPath,
		store:         deps.Store,
		identity:      deps.Identity,
		metrics:       deps.Metrics,
		mcp:           deps.MCP,
		states:        NewStateStore(DefaultStateExpiry),
		started:       time.Now(),
		virtualMemory: mem.VirtualMemoryWithContext,
	}
	if s.callbackPath == "" {
		s.callbackPath = config.DefaultCallbackPath
	}
	if s.cfg.RateLimit.Enabled && s.cfg.RateLimit.RequestsPerSecond > 0 {
		s.limiter = newIPRateLimiter(s.cfg.RateLimit)
	}

	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(
		s.observe,
		middleware.Recoverer,
		securityHeaders,
	)

	r.Get("/login", s.handleLoginPage)
	r.With(s.rateLimit).Post("/login", s.handleLogin)
	r.Get("/authorize", s.handleAuthorize)
	r.With(s.rateLimit).Get(s.callbackPath, s.handleCallback)
	r.With(s.rateLimit).Post("/token", s.handleToken)
	r.Post("/refresh", s.handleRefresh)
	r.With(s.rateLimit).Post("/cli-auth", s.handleCLIAuth)
	r.Get("/status", s.handleStatus)
	r.Post("/logout", s.handleLogout)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Get("/sessions", s.handleAdminSessions)
		r.Get("/users", s.handleAdminUsers)
		r.Put("/users/{id}/role", s.handleAdminSetRole)
		r.Post("/users/delete", s.handleAdminDeleteUsers)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/ready", s.handleReady)
	if s.cfg.PublicMetrics {
		r.Handle("/metrics", s.metrics.Handler())
	} else {
		r.With(s.requireAdmin).Handle("/metrics", s.metrics.Handler())
	}

	if s.mcp != nil {
		path := s.cfg.MCPPath
		if path == "" {
			path = "/mcp"
		}
		r.Handle(path, s.mcp)
		logging.Info("Gateway", "MCP endpoint mounted at %s", path)
	}

	return r
}

// Handler returns the gateway's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// redirectURI is the callback URL registered with IAS.
func (s *Server) redirectURI() string {
	return strings.TrimSuffix(s.cfg.BaseURL(), "/") + s.callbackPath
}

// Start listens on the configured address and blocks until the server is
// shut down. A clean shutdown returns nil, also when Shutdown ran first.
func (s *Server) Start() error {
	logging.Info("Gateway", "Listening on %s (public URL %s)", s.cfg.Address(), s.cfg.BaseURL())
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.states.Stop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("gateway shutdown failed: %w", err)
	}
	logging.Info("Gateway", "Server stopped")
	return nil
}
