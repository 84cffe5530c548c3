package session

import (
	"context"
	"time"
)

// GlobalSessionID is the well-known id used for the process-wide login
// (POST /login with global=true).
const GlobalSessionID = "global-auth"

// DefaultTokenLifetime is used when the identity provider omits expires_in.
const DefaultTokenLifetime = time.Hour

// ClientInfo describes the client that created a session.
type ClientInfo struct {
	UserAgent string `json:"userAgent,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	ClientID  string `json:"clientId,omitempty"`
}

// Session is an authenticated session. ExpiresAt is always after CreatedAt.
type Session struct {
	ID           string     `json:"id"`
	Token        string     `json:"token"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	User         string     `json:"user"`
	Scopes       []string   `json:"scopes"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   time.Time  `json:"lastUsedAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	ClientInfo   ClientInfo `json:"clientInfo"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Scopes = append([]string(nil), s.Scopes...)
	return &c
}

// ExpiredAt reports whether the session is expired at now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// HasScope reports whether the session carries scope.
func (s *Session) HasScope(scope string) bool {
	for _, sc := range s.Scopes {
		if sc == scope {
			return true
		}
	}
	return false
}

// TokenData is a normalized grant result. It is the input of Create and, as a
// partial record, of Update: empty fields leave the session unchanged.
type TokenData struct {
	AccessToken  string
	RefreshToken string

	// ExpiresIn is the token lifetime in seconds as reported by the provider.
	ExpiresIn int

	Scopes []string
	User   string
}

// Action tells a Backend what to do with a session after a MutateFunc ran.
type Action int

const (
	// ActionKeep leaves the stored session unchanged.
	ActionKeep Action = iota
	// ActionSave persists the modified session.
	ActionSave
	// ActionDelete removes the session.
	ActionDelete
)

// MutateFunc inspects and optionally modifies a session. It receives a copy it
// owns and must not retain it.
type MutateFunc func(s *Session) Action

// Backend persists sessions. Implementations serialize Save, Mutate and
// Delete per session id.
type Backend interface {
	// Save stores s, replacing any session with the same id.
	Save(ctx context.Context, s *Session) error

	// Load returns the session or nil when absent. Expiry is not checked.
	Load(ctx context.Context, id string) (*Session, error)

	// Mutate runs fn atomically for id. found is false when no session exists,
	// in which case fn is not called.
	Mutate(ctx context.Context, id string, fn MutateFunc) (found bool, err error)

	// Delete removes the session and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)

	// List returns all stored sessions, expired ones included.
	List(ctx context.Context) ([]*Session, error)

	// Close releases backend resources.
	Close() error
}

// Stats summarizes the store for health checks.
type Stats struct {
	TotalSessions   int `json:"totalSessions"`
	ActiveUsers     int `json:"activeUsers"`
	ExpiredSessions int `json:"expiredSessions"`
}

// ExpiredRatio is ExpiredSessions/TotalSessions, or 0 for an empty store.
func (s Stats) ExpiredRatio() float64 {
	if s.TotalSessions == 0 {
		return 0
	}
	return float64(s.ExpiredSessions) / float64(s.TotalSessions)
}

// Health is the store's health classification.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Classification thresholds on Stats.ExpiredRatio.
const (
	healthyRatio  = 0.2
	degradedRatio = 0.5
)

// Classify maps stats to a health state: healthy up to a 0.2 expired ratio,
// degraded up to 0.5, unhealthy above.
func Classify(stats Stats) Health {
	ratio := stats.ExpiredRatio()
	switch {
	case ratio <= healthyRatio:
		return HealthHealthy
	case ratio <= degradedRatio:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// UserSummary aggregates the active sessions of one user.
type UserSummary struct {
	User       string    `json:"user"`
	Sessions   int       `json:"sessions"`
	Scopes     []string  `json:"scopes"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}
