package middleware

import (
	"context"
	"net/http"
	"strings"

	"inference_gateway/internal/apierr"
	"inference_gateway/internal/auth"
	"inference_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

const (
	// KeyPrincipalKey is the context key for the authenticated API key principal
	KeyPrincipalKey ContextKey = "keyPrincipal"

	// SessionPrincipalKey is the context key for the authenticated session principal
	SessionPrincipalKey ContextKey = "sessionPrincipal"
)

const sessionCookieName = "gateway_session"

// KeyAuth gates routes that accept the Key principal kind. Presenting a
// session (or nothing) is unauthorized.
func KeyAuth(frontDoor *auth.FrontDoor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := bearerSecret(r)
			if secret == "" {
				utils.WriteError(w, apierr.New(apierr.KindUnauthorized, "missing API key"))
				return
			}

			principal, err := frontDoor.ResolveKey(r.Context(), secret)
			if err != nil {
				utils.WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), KeyPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionAuth gates management-plane routes that accept the Session
// principal kind. Bearer keys do not pass here: the kinds are mutually
// exclusive per route class.
func SessionAuth(frontDoor *auth.FrontDoor, adminOnly bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil {
				utils.WriteError(w, apierr.New(apierr.KindUnauthorized, "missing session"))
				return
			}

			principal, rerr := frontDoor.ResolveSession(r.Context(), cookie.Value, r.UserAgent())
			if rerr != nil {
				utils.WriteError(w, rerr)
				return
			}

			if adminOnly && !frontDoor.IsAdmin(principal.User) {
				utils.WriteError(w, apierr.New(apierr.KindForbidden, "admin access required"))
				return
			}

			ctx := context.WithValue(r.Context(), SessionPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerSecret(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// GetKeyPrincipal retrieves the API key principal from the request context
func GetKeyPrincipal(ctx context.Context) (*auth.KeyPrincipal, bool) {
	principal, ok := ctx.Value(KeyPrincipalKey).(*auth.KeyPrincipal)
	return principal, ok
}

// GetSessionPrincipal retrieves the session principal from the request context
func GetSessionPrincipal(ctx context.Context) (*auth.SessionPrincipal, bool) {
	principal, ok := ctx.Value(SessionPrincipalKey).(*auth.SessionPrincipal)
	return principal, ok
}
