// Package ias is the OAuth2 client for SAP Identity Authentication Service.
//
// It runs the four grants the gateway needs (authorization code, refresh
// token, client credentials and the deprecated password grant) and turns the
// provider responses into session.TokenData for the token store. Token
// validation goes through the provider's introspection endpoint; tokens are
// never trusted by decoding them locally.
//
// A Client whose URL, client id or secret is missing fails every call with an
// *api.ConfigurationError before any network I/O.
package ias
