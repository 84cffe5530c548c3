package destination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odatamcp/internal/api"
	"odatamcp/internal/config"
	"odatamcp/internal/metrics"
)

func testConfig() config.DestinationsConfig {
	return config.DestinationsConfig{
		DesignTime: "DT_DEST",
		Runtime:    "RUNTIME_DEST",
	}
}

func TestContext_ResolvedType(t *testing.T) {
	tests := []struct {
		ctx  Context
		want Type
	}{
		{Context{Operation: OpDiscovery}, DesignTime},
		{Context{Operation: OpMetadata}, DesignTime},
		{Context{Operation: OpRead}, Runtime},
		{Context{Operation: OpCreate}, Runtime},
		{Context{Operation: OpUpdate}, Runtime},
		{Context{Operation: OpDelete}, Runtime},
		{Context{}, Runtime},
		{Context{Type: DesignTime, Operation: OpRead}, DesignTime},
		{Context{Type: Runtime, Operation: OpMetadata}, Runtime},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.ctx.Type, tt.ctx.Operation), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ctx.ResolvedType())
		})
	}
}

func TestResolver_DefaultNames(t *testing.T) {
	r := NewResolver(config.DestinationsConfig{}, nil)
	assert.Equal(t, config.DefaultDesignTimeDestination, r.NameFor(DesignTime))
	assert.Equal(t, config.DefaultRuntimeDestination, r.NameFor(Runtime))
}

func TestResolver_LocalOverride(t *testing.T) {
	cfg := testConfig()
	cfg.Local = []config.LocalDestination{
		{Name: "RUNTIME_DEST", URL: "https://x", Username: "u", Password: "p"},
	}
	provider := NewStaticProvider(&Destination{Name: "RUNTIME_DEST", URL: "https://remote"})
	r := NewResolver(cfg, provider)

	for _, jwt := range []string{"", "Bearer some.user.jwt"} {
		res, err := r.Resolve(context.Background(), Context{Type: Runtime}, api.AuthContext{JWT: jwt})
		require.NoError(t, err)

		assert.Equal(t, SourceLocal, res.Source)
		assert.Equal(t, "https://x", res.Destination.URL)
		assert.Equal(t, BasicAuthentication, res.Destination.AuthenticationMode)
		assert.Equal(t, "u", res.Destination.User)
		assert.Equal(t, "p", res.Destination.Password)
		assert.Equal(t, PropagationNone, res.Propagation)
	}
	assert.Zero(t, provider.Calls(), "local override never calls the destination service")
}

func TestResolver_NotFound(t *testing.T) {
	r := NewResolver(testConfig(), NewStaticProvider())

	_, err := r.Resolve(context.Background(), Context{Operation: OpCreate}, api.AuthContext{JWT: "jwt"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrDestinationNotFound))

	var nf *api.DestinationNotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "RUNTIME_DEST", nf.Name)
	assert.Equal(t, "runtime", nf.Type)

	_, err = NewResolver(testConfig(), nil).Resolve(context.Background(), Context{Operation: OpMetadata}, api.AuthContext{})
	assert.True(t, errors.Is(err, api.ErrDestinationNotFound), "unbound service behaves as not found")
}

func TestResolver_DesignTimeCache(t *testing.T) {
	provider := NewStaticProvider(&Destination{
		Name:               "DT_DEST",
		URL:                "https://dt",
		AuthenticationMode: BasicAuthentication,
		User:               "tech",
		Password:           "secret",
	})
	r := NewResolver(testConfig(), provider, WithMetrics(metrics.New()))
	ctx := context.Background()
	dctx := Context{Operation: OpDiscovery}

	first, err := r.Resolve(ctx, dctx, api.AuthContext{})
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, first.Source)

	second, err := r.Resolve(ctx, dctx, api.AuthContext{})
	require.NoError(t, err)
	assert.Equal(t, SourceCache, second.Source)
	assert.Equal(t, first.Destination, second.Destination)
	assert.Equal(t, 1, provider.Calls())

	second.Destination.User = "mutated"
	third, err := r.Resolve(ctx, dctx, api.AuthContext{})
	require.NoError(t, err)
	assert.Equal(t, "tech", third.Destination.User, "cached destination is not shared with callers")

	r.ClearCache()
	assert.Zero(t, r.CacheSize())
	_, err = r.Resolve(ctx, dctx, api.AuthContext{})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.Calls())
}

func TestResolver_DesignTimeWithJWTNotCached(t *testing.T) {
	provider := NewStaticProvider(&Destination{Name: "DT_DEST", URL: "https://dt", AuthenticationMode: NoAuthentication})
	r := NewResolver(testConfig(), provider)

	for i := 0; i < 2; i++ {
		res, err := r.Resolve(context.Background(), Context{Operation: OpMetadata}, api.AuthContext{JWT: "jwt"})
		require.NoError(t, err)
		assert.Equal(t, SourceRemote, res.Source)
	}
	assert.Equal(t, 2, provider.Calls())
	assert.Zero(t, r.CacheSize())
}

// countingProvider blocks until released so concurrent misses overlap.
type countingProvider struct {
	calls   atomic.Int32
	release chan struct{}
}

func (p *countingProvider) Fetch(ctx context.Context, name, _ string) (*Destination, error) {
	p.calls.Add(1)
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Destination{Name: name, URL: "https://dt", AuthenticationMode: NoAuthentication}, nil
}

func TestResolver_DesignTimeMissesCollapse(t *testing.T) {
	provider := &countingProvider{release: make(chan struct{})}
	r := NewResolver(testConfig(), provider)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve(context.Background(), Context{Operation: OpDiscovery}, api.AuthContext{})
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(provider.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestResolver_RuntimeNeverCached(t *testing.T) {
	provider := NewStaticProvider(&Destination{
		Name:               "RUNTIME_DEST",
		URL:                "https://rt",
		AuthenticationMode: PrincipalPropagation,
	})
	r := NewResolver(testConfig(), provider)
	ctx := context.Background()

	_, err := r.Resolve(ctx, Context{Operation: OpRead}, api.AuthContext{JWT: "Bearer jwt-a"})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, Context{Operation: OpRead}, api.AuthContext{JWT: "bearer jwt-b"})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, Context{Operation: OpRead}, api.AuthContext{})
	require.NoError(t, err)

	assert.Equal(t, 3, provider.Calls())
	assert.Equal(t, []string{"jwt-a", "jwt-b", ""}, provider.Tokens())
	assert.Zero(t, r.CacheSize())
}

func TestResolver_PrincipalPropagation(t *testing.T) {
	tests := []struct {
		name     string
		dest     *Destination
		jwt      string
		want     Propagation
		wantAuth AuthenticationMode
	}{
		{
			name:     "token present",
			dest:     &Destination{AuthenticationMode: PrincipalPropagation, User: "u", Password: "p"},
			jwt:      "jwt",
			want:     PropagationActive,
			wantAuth: PrincipalPropagation,
		},
		{
			name:     "basic fallback without token",
			dest:     &Destination{AuthenticationMode: PrincipalPropagation, User: "u", Password: "p"},
			want:     PropagationBasicFallback,
			wantAuth: BasicAuthentication,
		},
		{
			name:     "nothing to authenticate with",
			dest:     &Destination{AuthenticationMode: PrincipalPropagation, User: "u"},
			want:     PropagationMissing,
			wantAuth: PrincipalPropagation,
		},
		{
			name:     "basic destination",
			dest:     &Destination{AuthenticationMode: BasicAuthentication, User: "u", Password: "p"},
			jwt:      "jwt",
			want:     PropagationNone,
			wantAuth: BasicAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.dest.Name = "RUNTIME_DEST"
			tt.dest.URL = "https://rt"
			r := NewResolver(testConfig(), NewStaticProvider(tt.dest))

			res, err := r.Resolve(context.Background(), Context{Operation: OpUpdate}, api.AuthContext{JWT: tt.jwt})
			require.NoError(t, err, "principal propagation problems are not resolver errors")
			assert.Equal(t, tt.want, res.Propagation)
			assert.Equal(t, tt.wantAuth, res.EffectiveAuthentication())
			assert.Equal(t, tt.dest.User, res.Destination.User)
		})
	}
}

// exchangingProvider mimics the destination service's user token exchange:
// the returned auth token is derived from the caller's JWT.
type exchangingProvider struct{}

func (exchangingProvider) Fetch(_ context.Context, name, jwt string) (*Destination, error) {
	time.Sleep(time.Millisecond)
	dest := &Destination{
		Name:               name,
		URL:                "https://rt",
		AuthenticationMode: PrincipalPropagation,
	}
	if jwt != "" {
		dest.AuthTokens = []AuthToken{{Type: "Bearer", Value: "exchanged-" + jwt}}
	}
	return dest, nil
}

func TestResolver_NoCrossRequestLeakage(t *testing.T) {
	r := NewResolver(testConfig(), exchangingProvider{})

	const perUser = 50
	users := []string{"alice", "bob"}

	var wg sync.WaitGroup
	for _, user := range users {
		for i := 0; i < perUser; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				auth := api.AuthContext{JWT: "Bearer jwt-" + user, User: user}
				res, err := r.Resolve(context.Background(), Context{Operation: OpCreate}, auth)
				if !assert.NoError(t, err) {
					return
				}
				if assert.Len(t, res.Destination.AuthTokens, 1) {
					assert.Equal(t, "exchanged-jwt-"+user, res.Destination.AuthTokens[0].Value)
				}
				assert.Equal(t, PropagationActive, res.Propagation)
			}(user)
		}
	}
	wg.Wait()
}

type failingProvider struct{ err error }

func (p failingProvider) Fetch(context.Context, string, string) (*Destination, error) {
	return nil, p.err
}

func TestResolver_ProviderError(t *testing.T) {
	boom := &api.BackendError{Status: 502, Message: "destination service returned status 500"}
	r := NewResolver(testConfig(), failingProvider{err: boom})

	_, err := r.Resolve(context.Background(), Context{Operation: OpDiscovery}, api.AuthContext{})
	assert.ErrorIs(t, err, api.ErrBackendRequestFailed)
	assert.Zero(t, r.CacheSize(), "failures are not cached")
}
