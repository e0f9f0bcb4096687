package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/services"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// UserCreator creates user records
type UserCreator interface {
	CreateUser(ctx context.Context, profile *models.User) (string, error)
}

// Provisioner creates the user record for an identity at most once per process.
// Concurrent calls for the same subject share one attempt.
type Provisioner struct {
	users UserCreator
	group singleflight.Group

	mu   sync.Mutex
	done map[string]struct{}
}

// NewProvisioner creates a provisioner
func NewProvisioner(users UserCreator) *Provisioner {
	return &Provisioner{
		users: users,
		done:  make(map[string]struct{}),
	}
}

// Ensure makes sure a user record exists for identity.
// An existing record counts as success. A failed attempt may be retried by a later call.
func (p *Provisioner) Ensure(ctx context.Context, identity Identity) error {
	if identity.Subject == "" {
		return fmt.Errorf("provision user: %w: empty subject", services.ErrInvalidInput)
	}
	if p.provisioned(identity.Subject) {
		return nil
	}

	_, err, _ := p.group.Do(identity.Subject, func() (any, error) {
		if p.provisioned(identity.Subject) {
			return nil, nil
		}

		profile := &models.User{
			ID:    identity.Subject,
			Name:  identity.DisplayName(),
			Email: identity.Email,
		}
		if identity.AvatarURL != "" {
			avatar := identity.AvatarURL
			profile.ProfilePhotoURL = &avatar
		}

		_, err := p.users.CreateUser(context.WithoutCancel(ctx), profile)
		switch {
		case err == nil:
			log.Info().Str("user_id", identity.Subject).Msg("User provisioned")
		case errors.Is(err, services.ErrAlreadyExists):
		default:
			return nil, fmt.Errorf("failed to provision user %s: %w", identity.Subject, err)
		}

		p.mu.Lock()
		p.done[identity.Subject] = struct{}{}
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

func (p *Provisioner) provisioned(subject string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.done[subject]
	return ok
}
