package server

import (
	"sync"
	"time"

	"odatamcp/pkg/logging"
	"odatamcp/pkg/oauth"
)

// DefaultStateExpiry bounds how long an authorization request may take.
const DefaultStateExpiry = 10 * time.Minute

// AuthState is what the gateway remembers between /authorize and /callback.
type AuthState struct {
	State        string
	CodeVerifier string
	RedirectURI  string

	// ReturnTo is where the browser goes after a successful callback.
	ReturnTo  string
	CreatedAt time.Time
}

// StateStore holds pending authorization requests. A state is valid once and
// for DefaultStateExpiry.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*AuthState

	expiry      time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStateStore creates a state store and starts its cleanup loop.
func NewStateStore(expiry time.Duration) *StateStore {
	if expiry <= 0 {
		expiry = DefaultStateExpiry
	}
	ss := &StateStore{
		states:      make(map[string]*AuthState),
		expiry:      expiry,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

// Generate creates a state and PKCE verifier for one authorization request.
func (ss *StateStore) Generate(redirectURI, returnTo string) (*AuthState, error) {
	state, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}
	verifier, _ := oauth.GeneratePKCERaw()

	st := &AuthState{
		State:        state,
		CodeVerifier: verifier,
		RedirectURI:  redirectURI,
		ReturnTo:     returnTo,
		CreatedAt:    ss.now(),
	}

	ss.mu.Lock()
	ss.states[state] = st
	ss.mu.Unlock()

	return st, nil
}

// Consume returns and removes the state. It returns nil for unknown, reused
// or expired states.
func (ss *StateStore) Consume(state string) *AuthState {
	ss.mu.Lock()
	st, ok := ss.states[state]
	delete(ss.states, state)
	ss.mu.Unlock()

	if !ok {
		logging.Warn("Gateway", "Unknown or reused authorization state")
		return nil
	}
	if age := ss.now().Sub(st.CreatedAt); age > ss.expiry {
		logging.Warn("Gateway", "Authorization state expired after %v", age.Round(time.Second))
		return nil
	}
	return st
}

// Len returns the number of pending states.
func (ss *StateStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.states)
}

// Stop stops the cleanup loop. It is safe to call more than once.
func (ss *StateStore) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopCleanup) })
}

func (ss *StateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCleanup:
			return
		}
	}
}

func (ss *StateStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now()
	count := 0
	for key, st := range ss.states {
		if now.Sub(st.CreatedAt) > ss.expiry {
			delete(ss.states, key)
			count++
		}
	}
	if count > 0 {
		logging.Debug("Gateway", "Cleaned up %d expired authorization states", count)
	}
}
