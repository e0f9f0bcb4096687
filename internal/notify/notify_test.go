package notify

import (
	"context"
	"net/http"
	"testing"

	"guest-gallery-backend/internal/models"

	"github.com/sideshow/apns2"
)

type fakePusher struct {
	sent   []*apns2.Notification
	status int
}

func (f *fakePusher) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.sent = append(f.sent, n)
	return &apns2.Response{StatusCode: f.status, Reason: "BadDeviceToken"}, nil
}

func TestAPNsPhotoLiked(t *testing.T) {
	t.Parallel()

	deviceToken := "device-1"
	photo := &models.Photo{ID: "p1", Name: "cake.jpg"}

	tests := []struct {
		name     string
		author   *models.User
		status   int
		wantSent int
		wantErr  bool
	}{
		{name: "no author", author: nil},
		{name: "author without token", author: &models.User{ID: "a"}},
		{name: "delivered", author: &models.User{ID: "a", PushToken: &deviceToken}, status: http.StatusOK, wantSent: 1},
		{name: "rejected", author: &models.User{ID: "a", PushToken: &deviceToken}, status: http.StatusBadRequest, wantSent: 1, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pusher := &fakePusher{status: tt.status}
			n := NewAPNsWithPusher(pusher, "com.example.gallery")

			err := n.PhotoLiked(context.Background(), tt.author, photo, 3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PhotoLiked() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(pusher.sent) != tt.wantSent {
				t.Fatalf("sent %d notifications, want %d", len(pusher.sent), tt.wantSent)
			}
			if tt.wantSent > 0 {
				got := pusher.sent[0]
				if got.DeviceToken != deviceToken || got.Topic != "com.example.gallery" || got.CollapseID != "p1" {
					t.Errorf("unexpected notification %+v", got)
				}
			}
		})
	}
}
