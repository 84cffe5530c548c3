package server

import (
	"fmt"
	"html"
	"net/http"
)

// setSecurityHeaders sets the headers for HTML responses.
func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
}

const pageStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               max-width: 28rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
        h1 { font-size: 1.4rem; }
        .error { color: #b00020; }
        code { background: #f2f2f2; padding: 0.2rem 0.4rem; word-break: break-all; }
        label { display: block; margin-top: 1rem; }
        input[type=text], input[type=password] { width: 100%; padding: 0.4rem; }
        button { margin-top: 1.5rem; padding: 0.5rem 1.5rem; }`

func renderPage(w http.ResponseWriter, status int, title, body string) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>%s - SAP OData MCP</title>
    <style>%s
    </style>
</head>
<body>
%s
</body>
</html>`, html.EscapeString(title), pageStyle, body)
}

func renderLoginPage(w http.ResponseWriter, ssoAvailable bool) {
	sso := ""
	if ssoAvailable {
		sso = `    <p>Or <a href="/authorize">sign in with SAP Identity Authentication</a>.</p>`
	}
	renderPage(w, http.StatusOK, "Sign in", `    <h1>Sign in</h1>
    <form method="post" action="/login">
        <label>User <input type="text" name="username" autocomplete="username" required></label>
        <label>Password <input type="password" name="password" autocomplete="current-password" required></label>
        <label><input type="checkbox" name="global" value="true"> Use for all MCP clients on this gateway</label>
        <button type="submit">Sign in</button>
    </form>
`+sso)
}

func renderSuccessPage(w http.ResponseWriter, user, sessionID string) {
	renderPage(w, http.StatusOK, "Authentication Successful", fmt.Sprintf(`    <h1>Authentication Successful</h1>
    <p>Signed in as <strong>%s</strong>.</p>
    <p>Configure your MCP client to send this session id in the <code>x-mcp-session-id</code> header:</p>
    <p><code>%s</code></p>
    <p>You can close this window.</p>`, html.EscapeString(user), html.EscapeString(sessionID)))
}

func renderErrorPage(w http.ResponseWriter, status int, message string) {
	renderPage(w, status, "Authentication Failed", fmt.Sprintf(`    <h1>Authentication Failed</h1>
    <p class="error">%s</p>
    <p>Please try again.</p>`, html.EscapeString(message)))
}
