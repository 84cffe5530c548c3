package api

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"odatamcp/pkg/logging"
)

const bearerPrefix = "Bearer "

// AuthContext is the caller identity for a single request. It is passed by
// value through every layer; nothing stores it beyond the call.
type AuthContext struct {
	// JWT is the caller's token, with or without the "Bearer " prefix.
	JWT string

	// SessionID is the gateway session the token came from, if any.
	SessionID string

	// User is the canonical user name when known. Informational only.
	User string

	// Scopes are the session's scopes when known.
	Scopes []string
}

// CleanJWT returns the token with a single leading "Bearer " removed and
// surrounding whitespace trimmed.
func (a AuthContext) CleanJWT() string {
	return StripBearer(a.JWT)
}

// HasJWT reports whether a non-empty token is present.
func (a AuthContext) HasJWT() bool {
	return a.CleanJWT() != ""
}

// HasScope reports whether scope is among the context's scopes.
func (a AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireScope returns an *AuthorizationError when scope is missing.
func (a AuthContext) RequireScope(scope string) error {
	if a.HasScope(scope) {
		return nil
	}
	return &AuthorizationError{RequiredScope: scope}
}

// LogValue implements slog.LogValuer. The token itself is never logged.
func (a AuthContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", a.User),
		slog.String("session", logging.TruncateSessionID(a.SessionID)),
		slog.Any("jwt", logging.NewRedactedToken(a.CleanJWT())),
	)
}

// String keeps the token out of %v and %s output.
func (a AuthContext) String() string {
	return fmt.Sprintf("AuthContext{user=%q session=%q jwt=%s}",
		a.User, logging.TruncateSessionID(a.SessionID), logging.NewRedactedToken(a.CleanJWT()))
}

// StripBearer removes one case-insensitive "Bearer " prefix. A bare
// "Bearer" yields "".
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if strings.EqualFold(token, strings.TrimSpace(bearerPrefix)) {
		return ""
	}
	if len(token) >= len(bearerPrefix) && strings.EqualFold(token[:len(bearerPrefix)], bearerPrefix) {
		token = strings.TrimSpace(token[len(bearerPrefix):])
	}
	return token
}

// TokenSubject returns a user hint from an unverified JWT for log lines:
// user_name, else email, else sub. It returns "" for anything that is not a
// JWT. The result must never drive an authentication or authorization
// decision.
func TokenSubject(token string) string {
	token = StripBearer(token)
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	for _, name := range []string{"user_name", "email", "sub"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// SessionHeader carries the gateway session id on HTTP and MCP requests.
const SessionHeader = "x-mcp-session-id"
