package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"time"

	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/session"

	"github.com/rs/zerolog/log"
)

const oauthStateCookie = "oauth_state"

// AuthHandler handles sign-in, sign-out and session lookups
type AuthHandler struct {
	manager      *session.Manager
	provider     session.Provider
	cookieSecure bool
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(manager *session.Manager, provider session.Provider, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		manager:      manager,
		provider:     provider,
		cookieSecure: cookieSecure,
	}
}

// SessionResponse describes the caller's session
type SessionResponse struct {
	State string            `json:"state"`
	User  *session.Identity `json:"user,omitempty"`
	// DisplayName is the name uploads are attributed to
	DisplayName string `json:"display_name"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"`
}

// GoogleLogin handles GET /auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateOAuthState()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate OAuth state")
		respondError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback handles GET /auth/google/callback
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || cookie.Value != state {
		log.Warn().Err(err).Msg("OAuth state validation failed")
		respondError(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:   oauthStateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	identity, err := h.provider.Exchange(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("OAuth exchange failed")
		respondError(w, "Sign-in failed", http.StatusBadGateway)
		return
	}

	token, claims, err := h.manager.SignIn(ctx, identity)
	if err != nil {
		respondServiceError(w, r, err, "Failed to sign in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  claims.ExpiresAt.Time,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFromRequest(r); token != "" {
		if err := h.manager.SignOut(token); err != nil {
			log.Debug().Err(err).Msg("Logout with unusable token")
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})

	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sessionResponse(r))
}

func sessionResponse(r *http.Request) SessionResponse {
	ctx := r.Context()
	state, identity := middleware.GetSession(ctx).State()

	resp := SessionResponse{State: state.String(), User: identity}
	if identity != nil {
		resp.DisplayName = identity.DisplayName()
	} else {
		resp.DisplayName = session.Identity{}.DisplayName()
	}
	if claims := middleware.GetClaims(ctx); claims != nil && claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Unix()
		resp.ExpiresAt = &exp
	}
	return resp
}

func generateOAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
