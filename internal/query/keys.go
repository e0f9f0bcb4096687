package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Key families. Every photo key lives under KeyPhotos so one prefix invalidates them all.
const (
	KeyPhotos    = "photos"
	KeyUsers     = "user"
	listSegment  = "list"
	authorSeg    = "author"
	favoritedSeg = "favorited"
	itemSegment  = "item"
)

// PhotoListKey identifies one page of the shared photo list
func PhotoListKey(limit int, cursor string) string {
	return fmt.Sprintf("%s/%s/%d/%s", KeyPhotos, listSegment, limit, cursor)
}

// AuthorPhotosKey identifies the photos uploaded by authorID
func AuthorPhotosKey(authorID string) string {
	return KeyPhotos + "/" + authorSeg + "/" + authorID
}

// FavoritedPhotosKey identifies the photos liked by userID
func FavoritedPhotosKey(userID string) string {
	return KeyPhotos + "/" + favoritedSeg + "/" + userID
}

// PhotoKey identifies a single photo
func PhotoKey(photoID string) string {
	return KeyPhotos + "/" + itemSegment + "/" + photoID
}

// UserKey identifies a user record
func UserKey(userID string) string {
	return KeyUsers + "/" + userID
}

// Mutation names a write operation in the invalidation table
type Mutation string

const (
	MutationUploadPhoto Mutation = "uploadPhoto"
	MutationToggleLike  Mutation = "toggleLike"
	MutationDeletePhoto Mutation = "deletePhoto"
	MutationCreateUser  Mutation = "createUser"
	MutationUpdateUser  Mutation = "updateUser"
)

// Scope carries the ids a mutation's invalidations depend on
type Scope struct {
	AuthorID string
	UserID   string
}

// invalidations is the single table of which key prefixes each mutation makes stale
var invalidations = map[Mutation]func(Scope) []string{
	MutationUploadPhoto: func(s Scope) []string {
		return []string{KeyPhotos, scoped(AuthorPhotosKey, s.AuthorID)}
	},
	MutationToggleLike: func(s Scope) []string {
		return []string{KeyPhotos, scoped(FavoritedPhotosKey, s.UserID)}
	},
	MutationDeletePhoto: func(s Scope) []string {
		return []string{KeyPhotos}
	},
	MutationCreateUser: func(s Scope) []string {
		return []string{scoped(UserKey, s.UserID)}
	},
	MutationUpdateUser: func(s Scope) []string {
		return []string{scoped(UserKey, s.UserID)}
	},
}

// Invalidates returns the key prefixes mutation m makes stale for scope s
func Invalidates(m Mutation, s Scope) []string {
	build, ok := invalidations[m]
	if !ok {
		return nil
	}
	var prefixes []string
	for _, p := range build(s) {
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

// scoped builds a key for id, or "" when id is empty so the prefix is skipped
func scoped(build func(string) string, id string) string {
	if id == "" {
		return ""
	}
	return build(id)
}

// parsedKey is a key broken back into its family and arguments
type parsedKey struct {
	family string
	id     string
	limit  int
	cursor string
}

func parseKey(key string) (parsedKey, error) {
	parts := strings.Split(key, "/")
	switch {
	case len(parts) == 2 && parts[0] == KeyUsers && parts[1] != "":
		return parsedKey{family: KeyUsers, id: parts[1]}, nil
	case len(parts) == 4 && parts[0] == KeyPhotos && parts[1] == listSegment:
		limit, err := strconv.Atoi(parts[2])
		if err != nil {
			return parsedKey{}, fmt.Errorf("bad page size in key %q", key)
		}
		return parsedKey{family: listSegment, limit: limit, cursor: parts[3]}, nil
	case len(parts) == 3 && parts[0] == KeyPhotos && parts[2] != "":
		switch parts[1] {
		case authorSeg, favoritedSeg, itemSegment:
			return parsedKey{family: parts[1], id: parts[2]}, nil
		}
	}
	return parsedKey{}, fmt.Errorf("unknown query key %q", key)
}
