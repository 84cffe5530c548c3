// Package api holds the types shared by every layer of odatamcp: the error
// taxonomy and the call-scoped AuthContext.
//
// This package imports nothing from internal/ so that the session store, the
// identity provider client, the destination resolver, the OData client and
// the HTTP edge can all depend on it without cycles.
//
// # Error Taxonomy
//
// Every failure that crosses a package boundary is one of five kinds, each
// exposed as a sentinel for errors.Is:
//
//   - ErrConfiguration: a collaborator is not configured; fails before any network I/O
//   - ErrTokenExchangeFailed: the identity provider rejected a grant
//   - ErrDestinationNotFound: a destination is absent locally and remotely
//   - ErrAuthorizationDenied: the caller lacks a required scope
//   - ErrBackendRequestFailed: the SAP backend answered with an error
//
// ErrInvalidToken is used when a presented token is inactive or unknown.
//
// Typed errors (TokenExchangeError, DestinationNotFoundError, BackendError,
// ConfigurationError, AuthorizationError) carry the details and match their
// sentinel through Is, so callers use errors.Is for the kind and errors.As
// for the details. HTTPStatus maps an error to the status code the HTTP edge
// returns.
//
// # Auth Context
//
// AuthContext carries the caller's JWT explicitly from the HTTP edge down to
// the destination resolver. There is no process-wide JWT lookup anywhere:
//
//	auth := api.AuthContext{JWT: r.Header.Get("Authorization")}
//	res, err := resolver.Resolve(ctx, dctx, auth)
package api
