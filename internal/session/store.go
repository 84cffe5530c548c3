package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"odatamcp/pkg/logging"

	"github.com/google/uuid"
)

// DefaultSweepInterval is how often expired sessions are removed.
const DefaultSweepInterval = 5 * time.Minute

// Store is the token store. It is safe for concurrent use.
type Store struct {
	backend Backend
	now     func() time.Time

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}
	stopOnce      sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithSweepInterval sets the sweep interval. Zero disables the sweep.
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Store) {
		s.sweepInterval = interval
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a store over backend and starts the background sweep.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:       backend,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.sweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.sweepDone)
	}

	return s
}

// Create stores a new session and returns its id. A random id is generated
// unless explicitID is set, in which case an existing session with that id is
// replaced.
func (s *Store) Create(ctx context.Context, data TokenData, client ClientInfo, explicitID string) (string, error) {
	id := explicitID
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	session := &Session{
		ID:           id,
		Token:        data.AccessToken,
		RefreshToken: data.RefreshToken,
		User:         data.User,
		Scopes:       append([]string(nil), data.Scopes...),
		CreatedAt:    now,
		LastUsedAt:   now,
		ExpiresAt:    now.Add(lifetime(data.ExpiresIn)),
		ClientInfo:   client,
	}

	if err := s.backend.Save(ctx, session); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	logging.Debug("Session", "Created session %s for user %s (expires: %v)",
		logging.TruncateSessionID(id), session.User, session.ExpiresAt.Format(time.RFC3339))
	return id, nil
}

// Get returns the session, or nil when it is absent or expired. Expired
// sessions are deleted. A hit updates LastUsedAt.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}

	var result *Session
	now := s.now()
	_, err := s.backend.Mutate(ctx, id, func(sess *Session) Action {
		if sess.ExpiredAt(now) {
			logging.Debug("Session", "Session %s expired", logging.TruncateSessionID(id))
			return ActionDelete
		}
		sess.LastUsedAt = now
		result = sess.Clone()
		return ActionSave
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return result, nil
}

// Update merges data into the session: non-empty token fields replace the
// stored ones and a positive ExpiresIn moves ExpiresAt. It returns false when
// the session is absent or expired.
func (s *Store) Update(ctx context.Context, id string, data TokenData) (bool, error) {
	updated := false
	now := s.now()
	_, err := s.backend.Mutate(ctx, id, func(sess *Session) Action {
		if sess.ExpiredAt(now) {
			return ActionDelete
		}
		if data.AccessToken != "" {
			sess.Token = data.AccessToken
		}
		if data.RefreshToken != "" {
			sess.RefreshToken = data.RefreshToken
		}
		if data.ExpiresIn > 0 {
			sess.ExpiresAt = now.Add(time.Duration(data.ExpiresIn) * time.Second)
		}
		if data.Scopes != nil {
			sess.Scopes = append([]string(nil), data.Scopes...)
		}
		if data.User != "" {
			sess.User = data.User
		}
		sess.LastUsedAt = now
		updated = true
		return ActionSave
	})
	if err != nil {
		return false, fmt.Errorf("failed to update session: %w", err)
	}
	if updated {
		logging.Debug("Session", "Updated session %s", logging.TruncateSessionID(id))
	}
	return updated, nil
}

// Remove deletes the session and reports whether it existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.backend.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove session: %w", err)
	}
	if removed {
		logging.Debug("Session", "Removed session %s", logging.TruncateSessionID(id))
	}
	return removed, nil
}

// List returns active sessions ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	active := make([]*Session, 0, len(all))
	for _, sess := range all {
		if !sess.ExpiredAt(now) {
			active = append(active, sess)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// Users aggregates active sessions by user, ordered by user name.
func (s *Store) Users(ctx context.Context) ([]UserSummary, error) {
	sessions, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*UserSummary)
	scopeSets := make(map[string]map[string]struct{})
	for _, sess := range sessions {
		summary, ok := byUser[sess.User]
		if !ok {
			summary = &UserSummary{User: sess.User}
			byUser[sess.User] = summary
			scopeSets[sess.User] = make(map[string]struct{})
		}
		summary.Sessions++
		if sess.LastUsedAt.After(summary.LastUsedAt) {
			summary.LastUsedAt = sess.LastUsedAt
		}
		for _, scope := range sess.Scopes {
			scopeSets[sess.User][scope] = struct{}{}
		}
	}

	users := make([]UserSummary, 0, len(byUser))
	for user, summary := range byUser {
		for scope := range scopeSets[user] {
			summary.Scopes = append(summary.Scopes, scope)
		}
		sort.Strings(summary.Scopes)
		users = append(users, *summary)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].User < users[j].User })
	return users, nil
}

// SetUserScopes replaces the scopes on every active session of user and
// returns how many sessions changed.
func (s *Store) SetUserScopes(ctx context.Context, user string, scopes []string) (int, error) {
	return s.forUser(ctx, user, func(sess *Session) Action {
		sess.Scopes = append([]string(nil), scopes...)
		return ActionSave
	})
}

// RemoveUser deletes every session of user and returns how many were removed.
func (s *Store) RemoveUser(ctx context.Context, user string) (int, error) {
	return s.forUser(ctx, user, func(*Session) Action {
		return ActionDelete
	})
}

func (s *Store) forUser(ctx context.Context, user string, fn MutateFunc) (int, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	count := 0
	for _, candidate := range all {
		if candidate.User != user {
			continue
		}
		changed := false
		_, err := s.backend.Mutate(ctx, candidate.ID, func(sess *Session) Action {
			// The session may have been replaced since List.
			if sess.User != user {
				return ActionKeep
			}
			changed = true
			return fn(sess)
		})
		if err != nil {
			return count, fmt.Errorf("failed to modify session: %w", err)
		}
		if changed {
			count++
		}
	}
	return count, nil
}

// Stats counts sessions, including expired ones the sweep has not removed.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	stats := Stats{TotalSessions: len(all)}
	users := make(map[string]struct{})
	for _, sess := range all {
		if sess.ExpiredAt(now) {
			stats.ExpiredSessions++
			continue
		}
		users[sess.User] = struct{}{}
	}
	stats.ActiveUsers = len(users)
	return stats, nil
}

// Sweep removes expired sessions and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	all, err := s.backend.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	now := s.now()
	count := 0
	for _, candidate := range all {
		if !candidate.ExpiredAt(now) {
			continue
		}
		removed := false
		// Re-check under the key lock; a refresh may have extended it.
		_, err := s.backend.Mutate(ctx, candidate.ID, func(sess *Session) Action {
			if !sess.ExpiredAt(now) {
				return ActionKeep
			}
			removed = true
			return ActionDelete
		})
		if err != nil {
			return count, fmt.Errorf("failed to remove expired session: %w", err)
		}
		if removed {
			count++
		}
	}

	if count > 0 {
		logging.Debug("Session", "Swept %d expired sessions", count)
	}
	return count, nil
}

// Shutdown stops the background sweep and closes the backend. It is safe to
// call more than once.
func (s *Store) Shutdown() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopSweep)
		<-s.sweepDone
		err = s.backend.Close()
	})
	return err
}

func (s *Store) sweepLoop() {
	defer close(s.sweepDone)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.sweepInterval)
			if _, err := s.Sweep(ctx); err != nil {
				logging.Error("Session", err, "Session sweep failed")
			}
			cancel()
		case <-s.stopSweep:
			return
		}
	}
}

func lifetime(expiresIn int) time.Duration {
	if expiresIn <= 0 {
		return DefaultTokenLifetime
	}
	return time.Duration(expiresIn) * time.Second
}
