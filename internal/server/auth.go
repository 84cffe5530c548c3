package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"odatamcp/internal/api"
	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
)

// Grant types accepted by /token.
const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
	grantPassword          = "password"
)

// tokenResponse is the OAuth2 token endpoint shape.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// sessionResponse is the legacy login shape.
type sessionResponse struct {
	Success   bool      `json:"success"`
	SessionID string    `json:"sessionId"`
	User      string    `json:"user"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type statusResponse struct {
	Authenticated bool       `json:"authenticated"`
	IASConfigured bool       `json:"iasConfigured"`
	SessionID     string     `json:"sessionId,omitempty"`
	User          string     `json:"user,omitempty"`
	Scopes        []string   `json:"scopes,omitempty"`
	CreatedAt     *time.Time `json:"createdAt,omitempty"`
	LastUsedAt    *time.Time `json:"lastUsedAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

func newSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		Success:   true,
		SessionID: sess.ID,
		User:      sess.User,
		Scopes:    sess.Scopes,
		ExpiresAt: sess.ExpiresAt,
	}
}

func newTokenResponse(data *session.TokenData, sessionID string) tokenResponse {
	expiresIn := data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = int(session.DefaultTokenLifetime.Seconds())
	}
	return tokenResponse{
		AccessToken:  data.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: data.RefreshToken,
		Scope:        strings.Join(data.Scopes, " "),
		SessionID:    sessionID,
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	renderLoginPage(w, s.identity.IsProperlyConfigured())
}

// handleLogin runs the password grant. Browser forms get HTML pages back,
// API clients the legacy JSON shape.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	browser := !isJSON(r)

	params, err := readParams(w, r)
	if err != nil {
		badRequest(w, "invalid_request", "malformed request body")
		return
	}
	username, password := params.Get("username"), params.Get("password")
	if username == "" || password == "" {
		if browser {
			renderErrorPage(w, http.StatusBadRequest, "Username and password are required.")
			return
		}
		badRequest(w, "invalid_request", "username and password are required")
		return
	}

	data, err := s.identity.AuthenticateUser(r.Context(), username, password)
	if err != nil {
		s.audit("login", "failure", username, "", err.Error())
		if browser {
			renderErrorPage(w, api.HTTPStatus(err), api.PublicMessage(err))
			return
		}
		writeError(w, r, err)
		return
	}

	explicitID := ""
	if global, _ := strconv.ParseBool(params.Get("global")); global {
		explicitID = session.GlobalSessionID
	}

	sess, err := s.createSession(r, data, explicitID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit("login", "success", sess.User, sess.ID, "")

	if browser {
		renderSuccessPage(w, sess.User, sess.ID)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

// handleAuthorize starts the authorization code flow. The optional redirect
// parameter is where the browser returns after the callback.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("redirect")
	if !safeReturnTo(returnTo) {
		badRequest(w, "invalid_request", "redirect must be a relative path or a loopback URL")
		return
	}

	st, err := s.states.Generate(s.redirectURI(), returnTo)
	if err != nil {
		writeError(w, r, err)
		return
	}

	target, err := s.identity.AuthorizationURL(r.Context(), st.State, st.RedirectURI, st.CodeVerifier)
	if err != nil {
		s.states.Consume(st.State)
		writeError(w, r, err)
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if code := q.Get("error"); code != "" {
		logging.Warn("Gateway", "Authorization denied by provider: %s", code)
		s.audit("authorize", "failure", "", "", code)
		renderErrorPage(w, http.StatusBadRequest, "The identity provider reported: "+code)
		return
	}

	st := s.states.Consume(q.Get("state"))
	if st == nil {
		renderErrorPage(w, http.StatusBadRequest, "Invalid or expired authorization request.")
		return
	}
	code := q.Get("code")
	if code == "" {
		renderErrorPage(w, http.StatusBadRequest, "Missing authorization code.")
		return
	}

	data, err := s.identity.ExchangeCodeForTokens(r.Context(), code, st.RedirectURI, st.CodeVerifier)
	if err != nil {
		s.audit("authorize", "failure", "", "", err.Error())
		renderErrorPage(w, api.HTTPStatus(err), api.PublicMessage(err))
		return
	}

	sess, err := s.createSession(r, data, "")
	if err != nil {
		renderErrorPage(w, http.StatusInternalServerError, "Failed to create session.")
		return
	}
	s.audit("authorize", "success", sess.User, sess.ID, "")

	if st.ReturnTo != "" {
		http.Redirect(w, r, withSessionParam(st.ReturnTo, sess.ID), http.StatusFound)
		return
	}
	renderSuccessPage(w, sess.User, sess.ID)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	params, err := readParams(w, r)
	if err != nil {
		badRequest(w, "invalid_request", "malformed request body")
		return
	}

	ctx := r.Context()
	grant := params.Get("grant_type")
	switch grant {
	case grantAuthorizationCode:
		code := params.Get("code")
		if code == "" {
			badRequest(w, "invalid_request", "code is required")
			return
		}
		redirectURI := params.Get("redirect_uri")
		if redirectURI == "" {
			redirectURI = s.redirectURI()
		}
		data, err := s.identity.ExchangeCodeForTokens(ctx, code, redirectURI, params.Get("code_verifier"))
		s.issueTokens(w, r, grant, data, err)

	case grantClientCredentials:
		data, err := s.identity.GetClientCredentialsToken(ctx)
		s.issueTokens(w, r, grant, data, err)

	case grantRefreshToken:
		refresh := params.Get("refresh_token")
		if refresh == "" {
			badRequest(w, "invalid_request", "refresh_token is required")
			return
		}
		data, err := s.identity.RefreshToken(ctx, refresh)
		if err != nil {
			writeError(w, r, err)
			return
		}
		// A refresh only touches a session the caller names, and only when
		// the refresh token is the one that session holds.
		sessionID, err := s.refreshSession(r, refresh, data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newTokenResponse(data, sessionID))

	case grantPassword:
		username, password := params.Get("username"), params.Get("password")
		if username == "" || password == "" {
			badRequest(w, "invalid_request", "username and password are required")
			return
		}
		data, err := s.identity.AuthenticateUser(ctx, username, password)
		if err != nil {
			s.audit("login", "failure", username, "", err.Error())
			writeError(w, r, err)
			return
		}
		sess, err := s.createSession(r, data, "")
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.audit("login", "success", sess.User, sess.ID, "password grant")
		writeJSON(w, http.StatusOK, newSessionResponse(sess))

	case "":
		badRequest(w, "invalid_request", "grant_type is required")
	default:
		badRequest(w, "unsupported_grant_type", "grant_type is not supported")
	}
}

// refreshSession stores refreshed tokens in the session named by the session
// header. It returns the session id, or "" when no session was updated.
func (s *Server) refreshSession(r *http.Request, refresh string, data *session.TokenData) (string, error) {
	ctx := r.Context()
	sessionID := r.Header.Get(api.SessionHeader)
	if sessionID == "" {
		return "", nil
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess == nil || !sameToken(sess.RefreshToken, refresh) {
		logging.Warn("Gateway", "Refresh token does not belong to session %s, session left unchanged", logging.TruncateSessionID(sessionID))
		return "", nil
	}

	ok, err := s.store.Update(ctx, sessionID, sessionRefresh(data))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return sessionID, nil
}

// sessionRefresh is the part of a refresh a session takes over. Scopes stay
// as stored: they may come from group mapping or an admin and a token
// response carries neither.
func sessionRefresh(data *session.TokenData) session.TokenData {
	update := *data
	update.Scopes = nil
	update.User = ""
	return update
}

func sameToken(a, b string) bool {
	return a != "" && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// issueTokens creates a session for a successful grant and answers in the
// OAuth2 shape. No session is created when err is set.
func (s *Server) issueTokens(w http.ResponseWriter, r *http.Request, grant string, data *session.TokenData, err error) {
	if err != nil {
		s.audit("token", "failure", "", "", grant+": "+err.Error())
		writeError(w, r, err)
		return
	}
	sess, err := s.createSession(r, data, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit("token", "success", sess.User, sess.ID, grant)
	writeJSON(w, http.StatusOK, newTokenResponse(data, sess.ID))
}

// handleRefresh refreshes the session named by the session header.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.Header.Get(api.SessionHeader)
	if sessionID == "" {
		badRequest(w, "invalid_request", api.SessionHeader+" header is required")
		return
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess == nil {
		writeError(w, r, api.ErrInvalidToken)
		return
	}
	if sess.RefreshToken == "" {
		badRequest(w, "invalid_grant", "session has no refresh token")
		return
	}

	data, err := s.identity.RefreshToken(ctx, sess.RefreshToken)
	if err != nil {
		s.audit("refresh", "failure", sess.User, sessionID, err.Error())
		writeError(w, r, err)
		return
	}

	ok, err := s.store.Update(ctx, sessionID, sessionRefresh(data))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, api.ErrInvalidToken)
		return
	}

	updated, err := s.store.Get(ctx, sessionID)
	if err != nil || updated == nil {
		writeError(w, r, api.ErrInvalidToken)
		return
	}
	s.audit("refresh", "success", updated.User, sessionID, "")
	writeJSON(w, http.StatusOK, newSessionResponse(updated))
}

// handleCLIAuth creates a session from a token the caller already holds.
// The token is checked by introspection, or by userinfo when the provider
// cannot introspect. It is never trusted on its own claims.
func (s *Server) handleCLIAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := api.StripBearer(r.Header.Get("Authorization"))
	if token == "" {
		params, err := readParams(w, r)
		if err != nil {
			badRequest(w, "invalid_request", "malformed request body")
			return
		}
		token = api.StripBearer(firstNonEmpty(params.Get("access_token"), params.Get("token")))
	}
	if token == "" {
		badRequest(w, "invalid_request", "a bearer token is required")
		return
	}

	data, err := s.verifyToken(ctx, token)
	if err != nil {
		s.audit("cli-auth", "failure", "", "", err.Error())
		writeError(w, r, err)
		return
	}

	sess, err := s.createSession(r, data, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.audit("cli-auth", "success", sess.User, sess.ID, "")
	writeJSON(w, http.StatusOK, newSessionResponse(sess))
}

func (s *Server) verifyToken(ctx context.Context, token string) (*session.TokenData, error) {
	v, err := s.identity.ValidateToken(ctx, token)
	switch {
	case err == nil && !v.Valid:
		return nil, api.ErrInvalidToken
	case err == nil && v.User != "":
		data := &session.TokenData{AccessToken: token, User: v.User, Scopes: v.Scopes}
		if !v.ExpiresAt.IsZero() {
			data.ExpiresIn = int(time.Until(v.ExpiresAt).Seconds())
			if data.ExpiresIn <= 0 {
				return nil, api.ErrInvalidToken
			}
		}
		return data, nil
	case err != nil && errors.Is(err, api.ErrConfiguration):
		return nil, err
	case err != nil:
		logging.Debug("Gateway", "Introspection unavailable, falling back to userinfo: %v", err)
	}

	info, err := s.identity.GetUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	return &session.TokenData{AccessToken: token, User: info.User, Scopes: info.Scopes}, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{IASConfigured: s.identity.IsProperlyConfigured()}

	sess, err := s.store.Get(r.Context(), r.Header.Get(api.SessionHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sess != nil {
		resp.Authenticated = true
		resp.SessionID = sess.ID
		resp.User = sess.User
		resp.Scopes = sess.Scopes
		resp.CreatedAt = &sess.CreatedAt
		resp.LastUsedAt = &sess.LastUsedAt
		resp.ExpiresAt = &sess.ExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout removes the session and revokes its tokens at IAS. Revocation
// is best effort.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.Header.Get(api.SessionHeader)
	if sessionID == "" {
		badRequest(w, "invalid_request", api.SessionHeader+" header is required")
		return
	}

	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	removed, err := s.store.Remove(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user := ""
	if sess != nil {
		user = sess.User
		s.revoke(ctx, sess)
	}
	s.audit("logout", "success", user, sessionID, "")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "removed": removed})
}

func (s *Server) revoke(ctx context.Context, sess *session.Session) {
	if !s.identity.IsProperlyConfigured() {
		return
	}
	if sess.RefreshToken != "" {
		if err := s.identity.RevokeToken(ctx, sess.RefreshToken, "refresh_token"); err != nil {
			logging.Debug("Gateway", "Refresh token revocation failed: %v", err)
		}
	}
	if err := s.identity.RevokeToken(ctx, sess.Token, "access_token"); err != nil {
		logging.Debug("Gateway", "Access token revocation failed: %v", err)
	}
}

// createSession stores data and returns the stored session.
func (s *Server) createSession(r *http.Request, data *session.TokenData, explicitID string) (*session.Session, error) {
	ctx := r.Context()
	client := session.ClientInfo{
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
	id, err := s.store.Create(ctx, *data, client, explicitID)
	if err != nil {
		return nil, err
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, errors.New("session expired immediately after creation")
	}
	return sess, nil
}

func (s *Server) audit(action, outcome, user, sessionID, details string) {
	logging.Audit(logging.AuditEvent{
		Action:    action,
		Outcome:   outcome,
		User:      user,
		SessionID: logging.TruncateSessionID(sessionID),
		Details:   details,
	})
}

// safeReturnTo accepts same-origin paths and loopback URLs only, so the
// gateway cannot be used as an open redirector.
func safeReturnTo(raw string) bool {
	if raw == "" {
		return true
	}
	if strings.HasPrefix(raw, "/") {
		return !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func withSessionParam(target, sessionID string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

// readParams reads a form or a flat JSON object into url.Values.
func readParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if !isJSON(r) {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		return r.PostForm, nil
	}

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return url.Values{}, nil
		}
		return nil, err
	}

	values := url.Values{}
	for k, v := range body {
		switch t := v.(type) {
		case string:
			values.Set(k, t)
		case bool:
			values.Set(k, strconv.FormatBool(t))
		case float64:
			values.Set(k, strconv.FormatFloat(t, 'f', -1, 64))
		}
	}
	return values, nil
}

// decodeJSON decodes a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
