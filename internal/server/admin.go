package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"odatamcp/internal/api"
	"odatamcp/internal/session"
	"odatamcp/pkg/logging"
)

// AdminScope is required on the caller's session for /admin routes.
const AdminScope = "admin"

type adminKey struct{}

type sessionSummary struct {
	ID         string             `json:"id"`
	User       string             `json:"user"`
	Scopes     []string           `json:"scopes"`
	CreatedAt  time.Time          `json:"createdAt"`
	LastUsedAt time.Time          `json:"lastUsedAt"`
	ExpiresAt  time.Time          `json:"expiresAt"`
	ClientInfo session.ClientInfo `json:"clientInfo"`
}

type setRoleRequest struct {
	Scopes []string `json:"scopes"`
}

type deleteUsersRequest struct {
	Users []string `json:"users"`
}

// requireAdmin admits requests whose session carries AdminScope.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(api.SessionHeader)
		sess, err := s.store.Get(r.Context(), sessionID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if sess == nil {
			writeError(w, r, api.ErrInvalidToken)
			return
		}
		if !sess.HasScope(AdminScope) {
			s.audit("admin", "denied", sess.User, sess.ID, r.Method+" "+r.URL.Path)
			writeError(w, r, &api.AuthorizationError{RequiredScope: AdminScope})
			return
		}
		ctx := context.WithValue(r.Context(), adminKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFrom(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(adminKey{}).(*session.Session)
	if sess == nil {
		return &session.Session{}
	}
	return sess
}

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionSummary{
			ID:         logging.TruncateSessionID(sess.ID),
			User:       sess.User,
			Scopes:     sess.Scopes,
			CreatedAt:  sess.CreatedAt,
			LastUsedAt: sess.LastUsedAt,
			ExpiresAt:  sess.ExpiresAt,
			ClientInfo: sess.ClientInfo,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": out, "count": len(out)})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.Users(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "count": len(users)})
}

// handleAdminSetRole replaces the scopes on all of a user's sessions.
func (s *Server) handleAdminSetRole(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "id")

	var req setRoleRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Scopes == nil {
		badRequest(w, "invalid_request", "body must be {\"scopes\": [...]}")
		return
	}

	n, err := s.store.SetUserScopes(r.Context(), user, req.Scopes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", ErrorDescription: "user has no active sessions"})
		return
	}

	admin := adminFrom(r.Context())
	s.audit("admin.set-role", "success", admin.User, admin.ID, user)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user, "sessions": n, "scopes": req.Scopes})
}

// handleAdminDeleteUsers removes every session of the listed users.
func (s *Server) handleAdminDeleteUsers(w http.ResponseWriter, r *http.Request) {
	var req deleteUsersRequest
	if err := decodeJSON(w, r, &req); err != nil || len(req.Users) == 0 {
		badRequest(w, "invalid_request", "body must be {\"users\": [...]}")
		return
	}

	admin := adminFrom(r.Context())
	removed := 0
	for _, user := range req.Users {
		n, err := s.store.RemoveUser(r.Context(), user)
		if err != nil {
			writeError(w, r, err)
			return
		}
		removed += n
		s.audit("admin.delete-user", "success", admin.User, admin.ID, user)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "removed": removed})
}
