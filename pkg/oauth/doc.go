// Package oauth provides the OAuth 2.0 / OIDC protocol primitives used by the
// identity provider client and the auth gateway.
//
// Nothing in this package stores tokens or knows about sessions; it speaks the
// wire protocol and returns plain values.
//
// # Core Components
//
//   - Token: token endpoint response with expiry bookkeeping
//   - Metadata: authorization server metadata (RFC 8414 / OIDC discovery)
//   - Introspection: token introspection response (RFC 7662)
//   - PKCEChallenge: Proof Key for Code Exchange (RFC 7636)
//   - Client: discovery, token requests, introspection, userinfo, revocation
//
// # Usage
//
//	client := oauth.NewClient(oauth.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
//
//	metadata, err := client.DiscoverMetadata(ctx, issuer)
//	token, err := client.RequestToken(ctx, metadata.TokenEndpoint, creds, url.Values{
//	    "grant_type": {"client_credentials"},
//	})
//
// Non-2xx responses from the token endpoint are returned as *TokenError; the
// response body is logged at debug level and never copied into the error.
package oauth
