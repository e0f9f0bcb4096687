// Package session tracks who a client is signed in as, issues and verifies the
// session tokens, and makes sure every signed-in identity has a user record.
package session

import (
	"strings"
	"sync"

	"guest-gallery-backend/internal/models"
)

// State is the authentication state of one client session
type State int

const (
	// StateUnknown is the state before the stored session has been checked
	StateUnknown State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateSignedIn:
		return "signed_in"
	default:
		return "unknown"
	}
}

// Identity is an authenticated person as reported by the identity provider
type Identity struct {
	Subject   string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// DisplayName is the provider name, else the email local part, else the anonymous author name
func (i Identity) DisplayName() string {
	if name := strings.TrimSpace(i.Name); name != "" {
		return name
	}
	if local, _, _ := strings.Cut(i.Email, "@"); local != "" {
		return local
	}
	return models.AnonymousAuthor
}

// Listener is called after each state change with the new state and identity.
// The identity is nil unless the state is StateSignedIn.
type Listener func(state State, identity *Identity)

// Session is the state machine for one client:
// Unknown -> SignedOut | SignedIn, SignedOut -> SignedIn, SignedIn -> SignedOut.
// Repeated notifications for the same identity are coalesced.
type Session struct {
	mu        sync.Mutex
	state     State
	identity  *Identity
	listeners []Listener
}

// New returns a session in StateUnknown
func New() *Session {
	return &Session{}
}

// State returns the current state and identity
func (s *Session) State() (State, *Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return s.state, nil
	}
	id := *s.identity
	return s.state, &id
}

// Identity returns the signed-in identity, or nil
func (s *Session) Identity() *Identity {
	_, id := s.State()
	return id
}

// OnChange registers fn for future state changes
func (s *Session) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SignIn moves the session to StateSignedIn. It reports whether listeners were notified;
// signing in again as the same subject is not a change.
func (s *Session) SignIn(identity Identity) bool {
	s.mu.Lock()
	if s.state == StateSignedIn && s.identity.Subject == identity.Subject {
		s.identity = &identity
		s.mu.Unlock()
		return false
	}
	s.state = StateSignedIn
	s.identity = &identity
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	id := identity
	for _, fn := range listeners {
		fn(StateSignedIn, &id)
	}
	return true
}

// SignOut moves the session to StateSignedOut. It reports whether listeners were notified.
func (s *Session) SignOut() bool {
	s.mu.Lock()
	if s.state == StateSignedOut {
		s.mu.Unlock()
		return false
	}
	s.state = StateSignedOut
	s.identity = nil
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(StateSignedOut, nil)
	}
	return true
}
