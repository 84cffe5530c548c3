package mcpserver

import (
	"context"
	"net/http"

	"odatamcp/internal/api"
)

type contextKey string

const requestAuthKey contextKey = "mcp_request_auth"

// requestAuth is the caller identity carried by one MCP HTTP request.
type requestAuth struct {
	token     string
	sessionID string
}

// withRequestAuth stores the request's credentials in ctx.
func withRequestAuth(ctx context.Context, auth requestAuth) context.Context {
	return context.WithValue(ctx, requestAuthKey, auth)
}

func requestAuthFrom(ctx context.Context) requestAuth {
	auth, _ := ctx.Value(requestAuthKey).(requestAuth)
	return auth
}

// httpContext copies the bearer token and session id of r into the context
// the tool handlers run with.
func httpContext(ctx context.Context, r *http.Request) context.Context {
	return withRequestAuth(ctx, requestAuth{
		token:     api.StripBearer(r.Header.Get("Authorization")),
		sessionID: r.Header.Get(api.SessionHeader),
	})
}
