// Package odata is the SAP backend client. Every request resolves its
// destination first: the HTTP verb and path decide whether the design-time or
// runtime destination is used, and the caller's api.AuthContext decides the
// identity. Writes fetch a CSRF token on the same connection. Backend errors
// are normalized into *api.BackendError; nothing is retried.
package odata
