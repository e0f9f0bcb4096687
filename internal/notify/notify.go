package notify

import (
	"context"
	"fmt"

	"guest-gallery-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// Notifier tells a photo's author about activity on it
type Notifier interface {
	PhotoLiked(ctx context.Context, author *models.User, photo *models.Photo, likeCount int) error
}

// Nop discards notifications
type Nop struct{}

// PhotoLiked does nothing
func (Nop) PhotoLiked(context.Context, *models.User, *models.Photo, int) error { return nil }

// Pusher is the subset of *apns2.Client used here
type Pusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsConfig holds token-based APNs credentials
type APNsConfig struct {
	KeyPath    string
	KeyID      string
	TeamID     string
	Topic      string
	Production bool
}

// APNs sends like notifications to authors that registered a device token
type APNs struct {
	client Pusher
	topic  string
}

// NewAPNs creates an APNs notifier from a .p8 signing key
func NewAPNs(cfg APNsConfig) (*APNs, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return NewAPNsWithPusher(client, cfg.Topic), nil
}

// NewAPNsWithPusher creates an APNs notifier on an existing client
func NewAPNsWithPusher(client Pusher, topic string) *APNs {
	return &APNs{client: client, topic: topic}
}

// PhotoLiked pushes a like alert to the author. Authors without a push token are skipped.
func (a *APNs) PhotoLiked(ctx context.Context, author *models.User, photo *models.Photo, likeCount int) error {
	if author == nil || author.PushToken == nil || *author.PushToken == "" {
		return nil
	}

	body := fmt.Sprintf("Your photo %q has %d like(s)", photo.Name, likeCount)
	notification := &apns2.Notification{
		DeviceToken: *author.PushToken,
		Topic:       a.topic,
		CollapseID:  photo.ID,
		Payload: payload.NewPayload().
			AlertTitle("New like").
			AlertBody(body).
			Custom("photo_id", photo.ID),
	}

	res, err := a.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}

	log.Debug().
		Str("user_id", author.ID).
		Str("photo_id", photo.ID).
		Str("apns_id", res.ApnsID).
		Msg("Like notification sent")
	return nil
}
