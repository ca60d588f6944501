// Package middleware provides HTTP middleware for the auth service.
package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatekeeper/pkg/authn"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/session"
	"github.com/platinummonkey/gatekeeper/pkg/sso"
)

// SessionAuth validates the bearer token on every request and injects
// the authenticated user into the request context. Requests without a
// valid session are rejected before the handler runs.
func SessionAuth(service *sso.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				httputil.WriteUnauthorized(w, "missing bearer token")
				return
			}

			origin := authn.Origin{
				Address: httputil.ClientIP(r),
				Agent:   r.UserAgent(),
			}
			user, err := service.ValidateSession(r.Context(), parts[1], origin)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid session")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithUser(r.Context(), user)))
		})
	}
}

// RequireRole rejects authenticated requests whose user lacks the role
func RequireRole(role authn.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := contextkeys.User(r.Context()).(*session.EnterpriseUser)
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if !user.HasRole(role) {
				httputil.WriteForbidden(w, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID assigns each request a UUID, echoing it in the response and
// the request context for log and audit correlation
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), requestID)))
	})
}
