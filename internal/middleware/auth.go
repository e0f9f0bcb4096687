package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"guest-gallery-backend/internal/session"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	claimsKey  contextKey = "claims"
)

// SessionCookie is the cookie that carries the session token for browser clients
const SessionCookie = "session"

// Session restores the caller's session from the Authorization header or the
// session cookie. Requests without a valid token continue as signed out.
func Session(manager *session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, claims := manager.Restore(r.Context(), TokenFromRequest(r))

			ctx := context.WithValue(r.Context(), sessionKey, s)
			if claims != nil {
				ctx = context.WithValue(ctx, claimsKey, claims)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that are not signed in
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			respondError(w, "Sign in required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromRequest returns the bearer token, falling back to the session cookie
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// GetSession returns the request's session. It is never nil after the Session middleware ran.
func GetSession(ctx context.Context) *session.Session {
	s, ok := ctx.Value(sessionKey).(*session.Session)
	if !ok {
		s = session.New()
		s.SignOut()
	}
	return s
}

// GetIdentity returns the signed-in identity, or nil
func GetIdentity(ctx context.Context) *session.Identity {
	return GetSession(ctx).Identity()
}

// GetClaims returns the verified token claims, or nil
func GetClaims(ctx context.Context) *session.Claims {
	claims, _ := ctx.Value(claimsKey).(*session.Claims)
	return claims
}

// GetUserID extracts the signed-in user ID from context
func GetUserID(ctx context.Context) string {
	identity := GetIdentity(ctx)
	if identity == nil {
		return ""
	}
	return identity.Subject
}

// ValidateWebSocketToken validates the token passed as a WebSocket query parameter
func ValidateWebSocketToken(token string, manager *session.Manager) (*session.Claims, error) {
	if token == "" {
		return nil, session.ErrInvalidToken
	}
	return manager.Verify(token)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
