package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrRevoked is returned for tokens whose session was signed out
var ErrRevoked = errors.New("session revoked")

// Manager turns tokens into sessions and back
type Manager struct {
	tokens      *Tokens
	provisioner *Provisioner

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewManager creates a session manager
func NewManager(tokens *Tokens, provisioner *Provisioner) *Manager {
	return &Manager{
		tokens:      tokens,
		provisioner: provisioner,
		revoked:     make(map[string]time.Time),
	}
}

// Restore resolves a stored token into a session. The session leaves StateUnknown
// before Restore returns: SignedIn for a valid unrevoked token, SignedOut otherwise.
// Entering SignedIn provisions the user record.
func (m *Manager) Restore(ctx context.Context, token string) (*Session, *Claims) {
	s := m.newSession(ctx)
	if token == "" {
		s.SignOut()
		return s, nil
	}

	claims, err := m.Verify(token)
	if err != nil {
		log.Debug().Err(err).Msg("Session token rejected")
		s.SignOut()
		return s, nil
	}

	s.SignIn(claims.Identity())
	return s, claims
}

// SignIn issues a token for a freshly authenticated identity and provisions its user.
func (m *Manager) SignIn(ctx context.Context, identity Identity) (string, *Claims, error) {
	if err := m.provisioner.Ensure(ctx, identity); err != nil {
		return "", nil, err
	}
	token, claims, err := m.tokens.Issue(identity)
	if err != nil {
		return "", nil, err
	}

	log.Info().
		Str("user_id", identity.Subject).
		Str("sid", claims.SessionID).
		Msg("User signed in")

	return token, claims, nil
}

// SignOut revokes the token's session until the token would have expired anyway
func (m *Manager) SignOut(token string) error {
	claims, err := m.Verify(token)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	m.revoked[claims.SessionID] = claims.ExpiresAt.Time

	log.Info().
		Str("user_id", claims.Subject).
		Str("sid", claims.SessionID).
		Msg("User signed out")

	return nil
}

// Verify parses a token and rejects revoked sessions
func (m *Manager) Verify(token string) (*Claims, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, revoked := m.revoked[claims.SessionID]
	m.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("session %s: %w", claims.SessionID, ErrRevoked)
	}
	return claims, nil
}

// TTL is the lifetime of issued tokens
func (m *Manager) TTL() time.Duration {
	return m.tokens.ttl
}

func (m *Manager) newSession(ctx context.Context) *Session {
	s := New()
	s.OnChange(func(state State, identity *Identity) {
		if state != StateSignedIn {
			return
		}
		if err := m.provisioner.Ensure(ctx, *identity); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", identity.Subject).
				Msg("Failed to provision user")
		}
	})
	return s
}

func (m *Manager) pruneLocked() {
	now := m.tokens.now()
	for sid, exp := range m.revoked {
		if now.After(exp) {
			delete(m.revoked, sid)
		}
	}
}
