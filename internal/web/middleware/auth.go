package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

type adminKey struct{}

// RequireAdmin guards the enrollment and reporting routes. Requests without a
// live admin session get 401; the rest see the session through AdminFrom.
func RequireAdmin(sm *SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sm.GetSessionFromRequest(r)
			if session == nil {
				denyAdmin(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), session)))
		})
	}
}

func denyAdmin(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "admin face login required"})
}

// WithAdmin attaches an authenticated admin session to ctx.
func WithAdmin(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, adminKey{}, session)
}

// AdminFrom returns the admin session of the request, or nil outside
// RequireAdmin.
func AdminFrom(ctx context.Context) *Session {
	session, _ := ctx.Value(adminKey{}).(*Session)
	return session
}
