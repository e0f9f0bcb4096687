package models

import (
	"slices"
	"time"
)

// AnonymousAuthor is the display name used for uploads without a signed-in author
const AnonymousAuthor = "Guest"

// Photo represents an uploaded event photo
type Photo struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	StorageKey  string    `json:"-"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Author      string    `json:"author"`
	AuthorID    string    `json:"author_id"`
	Timestamp   time.Time `json:"timestamp"`
	LikeCount   int       `json:"like_count"`
	LikedBy     []string  `json:"liked_by"`

	// IsFavoritedByViewer is derived from LikedBy for the requesting user; never stored.
	IsFavoritedByViewer bool `json:"is_favorited_by_viewer"`
}

// IsLikedBy reports whether userID is in LikedBy
func (p *Photo) IsLikedBy(userID string) bool {
	return userID != "" && slices.Contains(p.LikedBy, userID)
}

// ForViewer returns a copy of the photo with IsFavoritedByViewer set for viewerID
func (p *Photo) ForViewer(viewerID string) *Photo {
	cp := *p
	cp.LikedBy = slices.Clone(p.LikedBy)
	cp.IsFavoritedByViewer = p.IsLikedBy(viewerID)
	return &cp
}

// User represents a gallery attendee
type User struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	ProfilePhotoURL   *string   `json:"profile_photo_url,omitempty"`
	UploadedPhotoIDs  []string  `json:"uploaded_photo_ids"`
	FavoritedPhotoIDs []string  `json:"favorited_photo_ids"`
	PushToken         *string   `json:"push_token,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// UserUpdate is a partial user update; nil fields are left unchanged
type UserUpdate struct {
	Name            *string `json:"name,omitempty"`
	Email           *string `json:"email,omitempty"`
	ProfilePhotoURL *string `json:"profile_photo_url,omitempty"`
	PushToken       *string `json:"push_token,omitempty"`
}

// Empty reports whether the update changes nothing
func (u UserUpdate) Empty() bool {
	return u.Name == nil && u.Email == nil && u.ProfilePhotoURL == nil && u.PushToken == nil
}

// Apply merges the update into user
func (u UserUpdate) Apply(user *User) {
	if u.Name != nil {
		user.Name = *u.Name
	}
	if u.Email != nil {
		user.Email = *u.Email
	}
	if u.ProfilePhotoURL != nil {
		user.ProfilePhotoURL = u.ProfilePhotoURL
	}
	if u.PushToken != nil {
		user.PushToken = u.PushToken
	}
}

// LikeResult is the photo like state after a toggle
type LikeResult struct {
	LikeCount           int  `json:"like_count"`
	IsFavoritedByViewer bool `json:"is_favorited_by_viewer"`
}
