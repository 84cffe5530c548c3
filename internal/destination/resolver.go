package destination

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/internal/metrics"
	"odatamcp/pkg/logging"
)

// Provider fetches a named destination from a remote source. A nil
// destination with a nil error means the destination does not exist. jwt is
// the caller's token without prefix, or "" when there is none.
type Provider interface {
	Fetch(ctx context.Context, name, jwt string) (*Destination, error)
}

// Resolver picks and resolves the destination for an operation. It is safe
// for concurrent use; the only shared state is the design-time cache.
type Resolver struct {
	designTimeName string
	runtimeName    string
	local          map[string]*Destination
	provider       Provider
	metrics        *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]*Destination

	// collapses concurrent design-time cache misses per name
	group singleflight.Group
}

// Option configures the resolver.
type Option func(*Resolver)

// WithMetrics records resolution outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver for the configured destination names.
// provider may be nil when no destination service is bound; then only local
// destinations resolve.
func NewResolver(cfg config.DestinationsConfig, provider Provider, opts ...Option) *Resolver {
	r := &Resolver{
		designTimeName: cfg.DesignTime,
		runtimeName:    cfg.Runtime,
		local:          make(map[string]*Destination, len(cfg.Local)),
		provider:       provider,
		cache:          make(map[string]*Destination),
	}
	if r.designTimeName == "" {
		r.designTimeName = config.DefaultDesignTimeDestination
	}
	if r.runtimeName == "" {
		r.runtimeName = config.DefaultRuntimeDestination
	}

	for _, ld := range cfg.Local {
		r.local[ld.Name] = fromLocal(ld)
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

func fromLocal(ld config.LocalDestination) *Destination {
	mode := AuthenticationMode(ld.Authentication)
	if mode == "" {
		mode = BasicAuthentication
	}
	return &Destination{
		Name:               ld.Name,
		URL:                ld.URL,
		AuthenticationMode: mode,
		User:               ld.Username,
		Password:           ld.Password,
	}
}

// NameFor returns the configured destination name for t.
func (r *Resolver) NameFor(t Type) string {
	if t == DesignTime {
		return r.designTimeName
	}
	return r.runtimeName
}

// Resolve returns the destination for dctx on behalf of auth.
//
// Order: local override, then the design-time cache when there is no token,
// then the remote provider. A Principal Propagation destination without a
// token is returned with a warning; it is not an error here.
func (r *Resolver) Resolve(ctx context.Context, dctx Context, auth api.AuthContext) (*Resolution, error) {
	t := dctx.ResolvedType()
	name := r.NameFor(t)
	jwt := auth.CleanJWT()

	res := &Resolution{
		Name:      name,
		Type:      t,
		Operation: dctx.Operation,
	}

	var (
		dest *Destination
		err  error
	)
	switch ld, ok := r.local[name]; {
	case ok:
		dest = ld.Clone()
		res.Source = SourceLocal
	case t == DesignTime && jwt == "":
		dest, res.Source, err = r.cached(ctx, name)
	default:
		dest, err = r.fetch(ctx, name, jwt)
		res.Source = SourceRemote
	}
	if err != nil {
		return nil, err
	}
	if dest == nil {
		logging.Warn("Destination", "%s destination %q not found", t, name)
		return nil, &api.DestinationNotFoundError{Name: name, Type: string(t)}
	}

	res.Destination = dest
	res.Propagation = propagation(dest, jwt)
	r.report(res, auth)
	return res, nil
}

// ClearCache drops all cached design-time destinations.
func (r *Resolver) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]*Destination)
	r.mu.Unlock()
	logging.Debug("Destination", "Design-time destination cache cleared")
}

// CacheSize returns the number of cached destinations.
func (r *Resolver) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func (r *Resolver) cached(ctx context.Context, name string) (*Destination, Source, error) {
	r.mu.RLock()
	dest, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return dest.Clone(), SourceCache, nil
	}

	v, err, _ := r.group.Do(name, func() (interface{}, error) {
		r.mu.RLock()
		dest, ok := r.cache[name]
		r.mu.RUnlock()
		if ok {
			return dest, nil
		}

		dest, err := r.fetch(ctx, name, "")
		if err != nil || dest == nil {
			return dest, err
		}

		r.mu.Lock()
		r.cache[name] = dest
		r.mu.Unlock()
		return dest, nil
	})
	if err != nil {
		return nil, "", err
	}
	dest, _ = v.(*Destination)
	return dest.Clone(), SourceRemote, nil
}

func (r *Resolver) fetch(ctx context.Context, name, jwt string) (*Destination, error) {
	if r.provider == nil {
		logging.Debug("Destination", "No destination service bound, cannot resolve %q remotely", name)
		return nil, nil
	}
	return r.provider.Fetch(ctx, name, jwt)
}

func propagation(dest *Destination, jwt string) Propagation {
	if dest.AuthenticationMode != PrincipalPropagation {
		return PropagationNone
	}
	switch {
	case jwt != "":
		return PropagationActive
	case dest.HasBasicCredentials():
		return PropagationBasicFallback
	default:
		return PropagationMissing
	}
}

func (r *Resolver) report(res *Resolution, auth api.AuthContext) {
	r.metrics.ObserveResolution(string(res.Type), string(res.Source), string(res.Propagation))

	switch res.Propagation {
	case PropagationActive:
		logging.Debug("Destination", "Principal propagation active for %s destination %q (user %s)",
			res.Type, res.Name, api.TokenSubject(auth.JWT))
	case PropagationBasicFallback:
		logging.Warn("Destination", "No user token for principal propagation destination %q, using basic authentication", res.Name)
	case PropagationMissing:
		logging.Warn("Destination", "No user token and no basic credentials for principal propagation destination %q, backend will reject the request", res.Name)
	default:
		logging.Debug("Destination", "Resolved %s destination %q from %s (%s)",
			res.Type, res.Name, res.Source, res.Destination.AuthenticationMode)
	}
}
