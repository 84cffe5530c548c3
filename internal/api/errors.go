package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds. Typed errors below match these through Is.
var (
	// ErrConfiguration indicates a required collaborator is not configured.
	ErrConfiguration = errors.New("configuration error")

	// ErrTokenExchangeFailed indicates the identity provider rejected a grant.
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrDestinationNotFound indicates a destination could not be resolved.
	ErrDestinationNotFound = errors.New("destination not found")

	// ErrAuthorizationDenied indicates the caller's scopes are insufficient.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrBackendRequestFailed indicates the SAP backend returned an error.
	ErrBackendRequestFailed = errors.New("backend request failed")

	// ErrInvalidToken indicates a token is missing, unknown or inactive.
	ErrInvalidToken = errors.New("invalid token")
)

// ConfigurationError reports which component is missing configuration.
// The message never contains configuration values.
type ConfigurationError struct {
	// Component is the unconfigured collaborator, e.g. "ias".
	Component string

	// Missing lists the absent settings by name.
	Missing []string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("%s is not configured", e.Component)
	}
	return fmt.Sprintf("%s is not configured: missing %v", e.Component, e.Missing)
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// TokenExchangeError is returned when a grant against the identity provider
// fails. Status is the provider's HTTP status, or 0 for transport errors.
type TokenExchangeError struct {
	Grant  string
	Status int
	Reason string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("token exchange failed for grant %s", e.Grant)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTokenExchangeFailed.
func (e *TokenExchangeError) Is(target error) bool {
	return target == ErrTokenExchangeFailed
}

// DestinationNotFoundError names the destination that could not be resolved.
type DestinationNotFoundError struct {
	Name string
	Type string
}

func (e *DestinationNotFoundError) Error() string {
	return fmt.Sprintf("%s destination %q not found", e.Type, e.Name)
}

// Is reports whether target is ErrDestinationNotFound.
func (e *DestinationNotFoundError) Is(target error) bool {
	return target == ErrDestinationNotFound
}

// AuthorizationError names the scope the caller was missing.
type AuthorizationError struct {
	RequiredScope string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization denied: scope %q required", e.RequiredScope)
}

// Is reports whether target is ErrAuthorizationDenied.
func (e *AuthorizationError) Is(target error) bool {
	return target == ErrAuthorizationDenied
}

// BackendError is a normalized SAP backend failure. Status is 0 when the
// request never produced a response.
type BackendError struct {
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend request failed with status %d: %s", e.Status, e.Message)
	}
	return "backend request failed: " + e.Message
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBackendRequestFailed.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendRequestFailed
}

// HTTPStatus maps an error to the status code returned at the HTTP edge.
//
//   - ErrConfiguration: 500
//   - ErrTokenExchangeFailed, ErrInvalidToken: 401
//   - ErrAuthorizationDenied: 403
//   - ErrDestinationNotFound: 404
//   - ErrBackendRequestFailed: the backend status, 502 if there was none
//   - anything else: 500
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var backendErr *BackendError
	switch {
	case errors.Is(err, ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, ErrTokenExchangeFailed), errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrDestinationNotFound):
		return http.StatusNotFound
	case errors.As(err, &backendErr):
		if backendErr.Status >= 400 {
			return backendErr.Status
		}
		return http.StatusBadGateway
	case errors.Is(err, ErrBackendRequestFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short machine-readable name for the error's kind, used as
// the "error" member of JSON error bodies and in MCP tool errors.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrDestinationNotFound):
		return "destination_not_found"
	case errors.Is(err, ErrBackendRequestFailed):
		return "backend_request_failed"
	default:
		return "internal_error"
	}
}

// PublicMessage returns a message safe to show to callers. Configuration and
// unknown errors get a generic text so secrets and internals never leak.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "the server is not configured for this operation"
	case errors.Is(err, ErrTokenExchangeFailed):
		return "authentication with the identity provider failed"
	case errors.Is(err, ErrInvalidToken):
		return "invalid or expired token"
	case errors.Is(err, ErrAuthorizationDenied),
		errors.Is(err, ErrDestinationNotFound),
		errors.Is(err, ErrBackendRequestFailed):
		return err.Error()
	default:
		return "internal server error"
	}
}
