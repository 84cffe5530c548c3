// Package server is the auth gateway HTTP surface of odatamcp.
//
// The gateway turns IAS logins into sessions in the token store and serves
// the MCP endpoint on the same listener. Tool calls authenticate either with
// a bearer token or with the x-mcp-session-id header.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                       Auth Gateway                       │
//	│                                                          │
//	│  /login /authorize /callback /token /refresh /cli-auth   │
//	│               │                                          │
//	│               ▼                                          │
//	│  [ IAS client ] ──► [ Token Store (memory / Redis) ]     │
//	│                                  │                       │
//	│  /mcp ──► [ MCP tools ] ◄────────┘ session lookup        │
//	│               │                                          │
//	│               ▼                                          │
//	│  [ OData client ] ──► [ Destination Resolver ] ──► SAP   │
//	└──────────────────────────────────────────────────────────┘
//
// # Endpoints
//
//   - GET  /login, POST /login - password login (legacy)
//   - GET  /authorize - start the authorization code flow with PKCE
//   - GET  /callback - IAS redirect target
//   - POST /token - authorization_code, refresh_token, client_credentials, password
//   - POST /refresh - refresh the session named by x-mcp-session-id
//   - POST /cli-auth - create a session from a pre-obtained token
//   - GET  /status, POST /logout
//   - GET  /admin/sessions, GET /admin/users, PUT /admin/users/{id}/role,
//     POST /admin/users/delete - require the admin scope
//   - GET  /health, GET /health/ready
//   - GET  /metrics (admin session unless publicMetrics is set)
//
// Error responses are JSON {"error", "error_description"}; provider bodies
// and configuration values are never echoed.
package server
