package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/repository"
	"guest-gallery-backend/internal/storage"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}, make([]byte, 64)...)

type testEnv struct {
	photos     *PhotoService
	users      *UserService
	photoStore repository.PhotoStore
	blobs      *storage.LocalStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := repository.OpenBolt(filepath.Join(dir, "gallery.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.NewLocalStorage(filepath.Join(dir, "blobs.db"), "http://gallery.test/blobs")
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	t.Cleanup(func() { blobs.Close() })

	photos := NewPhotoService(db.Photos(), db.Users(), blobs, nil, 1<<20)
	t.Cleanup(photos.Wait)

	return &testEnv{
		photos:     photos,
		users:      NewUserService(db.Users()),
		photoStore: db.Photos(),
		blobs:      blobs,
	}
}

func (e *testEnv) upload(t *testing.T, name, authorID string) string {
	t.Helper()
	id, err := e.photos.UploadPhoto(context.Background(), UploadInput{
		File:        bytes.NewReader(pngBytes),
		Filename:    name,
		Size:        int64(len(pngBytes)),
		DisplayName: "Author " + authorID,
		AuthorID:    authorID,
	})
	if err != nil {
		t.Fatalf("UploadPhoto(%s): %v", name, err)
	}
	return id
}

func (e *testEnv) createUser(t *testing.T, id string) {
	t.Helper()
	if _, err := e.users.CreateUser(context.Background(), &models.User{ID: id, Name: "User " + id}); err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
}

func ids(photos []*models.Photo) []string {
	out := make([]string, len(photos))
	for i, p := range photos {
		out[i] = p.ID
	}
	return out
}

func TestUploadPhoto(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")

	id := env.upload(t, "cake.png", "alice")

	page, err := env.photos.ListPhotos(ctx, 10, "")
	if err != nil {
		t.Fatalf("ListPhotos: %v", err)
	}
	if len(page.Photos) != 1 || page.Photos[0].ID != id {
		t.Fatalf("ListPhotos = %v, want [%s]", ids(page.Photos), id)
	}
	photo := page.Photos[0]
	if photo.AuthorID != "alice" || photo.Author != "Author alice" {
		t.Errorf("author = %q/%q", photo.Author, photo.AuthorID)
	}
	if photo.LikeCount != 0 || len(photo.LikedBy) != 0 {
		t.Errorf("new photo likes = %d %v, want 0 []", photo.LikeCount, photo.LikedBy)
	}
	if photo.ContentType != "image/png" {
		t.Errorf("content type = %q", photo.ContentType)
	}

	obj, err := env.blobs.Get(ctx, photo.StorageKey)
	if err != nil {
		t.Fatalf("blob missing: %v", err)
	}
	if !bytes.Equal(obj.Data, pngBytes) {
		t.Errorf("stored %d bytes, want %d", len(obj.Data), len(pngBytes))
	}

	user, err := env.users.GetUser(ctx, "alice")
	if err != nil || user == nil {
		t.Fatalf("GetUser: %v %v", user, err)
	}
	if !slices.Equal(user.UploadedPhotoIDs, []string{id}) {
		t.Errorf("uploaded ids = %v, want [%s]", user.UploadedPhotoIDs, id)
	}
}

func TestUploadPhotoAnonymous(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	id, err := env.photos.UploadPhoto(context.Background(), UploadInput{
		File:     bytes.NewReader(pngBytes),
		Filename: "x.png",
		Size:     int64(len(pngBytes)),
	})
	if err != nil {
		t.Fatalf("UploadPhoto: %v", err)
	}
	photo, err := env.photos.GetPhoto(context.Background(), id, "")
	if err != nil {
		t.Fatalf("GetPhoto: %v", err)
	}
	if photo.Author != models.AnonymousAuthor || photo.AuthorID != "" {
		t.Errorf("author = %q/%q", photo.Author, photo.AuthorID)
	}
}

func TestUploadPhotoRejectsNonImage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.photos.UploadPhoto(context.Background(), UploadInput{
		File:     bytes.NewReader([]byte("#!/bin/sh\necho hi\n")),
		Filename: "run.sh",
		Size:     18,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

type failingBlobs struct {
	storage.Storage
	putErr    error
	deleteErr error
	deleted   []string
}

func (f *failingBlobs) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	return f.Storage.Put(ctx, key, body, size, contentType)
}

func (f *failingBlobs) Delete(ctx context.Context, key string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return f.Storage.Delete(ctx, key)
}

type failingPhotos struct {
	repository.PhotoStore
	createErr error
}

func (f *failingPhotos) Create(ctx context.Context, p *models.Photo) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.PhotoStore.Create(ctx, p)
}

func TestUploadPhotoFailures(t *testing.T) {
	t.Parallel()

	t.Run("blob write fails", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		svc := NewPhotoService(env.photoStore, nil, &failingBlobs{Storage: env.blobs, putErr: errors.New("s3 down")}, nil, 0)

		_, err := svc.UploadPhoto(context.Background(), UploadInput{File: bytes.NewReader(pngBytes), Filename: "a.png"})
		if !errors.Is(err, ErrUploadFailed) {
			t.Fatalf("error = %v, want ErrUploadFailed", err)
		}
		page, _ := env.photos.ListPhotos(context.Background(), 10, "")
		if len(page.Photos) != 0 {
			t.Errorf("photo record created after failed blob write")
		}
	})

	t.Run("record write fails", func(t *testing.T) {
		t.Parallel()
		env := newTestEnv(t)
		svc := NewPhotoService(&failingPhotos{PhotoStore: env.photoStore, createErr: errors.New("conn reset")}, nil, env.blobs, nil, 0)

		_, err := svc.UploadPhoto(context.Background(), UploadInput{File: bytes.NewReader(pngBytes), Filename: "a.png"})
		if !errors.Is(err, ErrMetadataWriteFailed) {
			t.Fatalf("error = %v, want ErrMetadataWriteFailed", err)
		}
	})
}

func TestListPhotosPagination(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	var uploaded []string
	for i := 0; i < 7; i++ {
		uploaded = append(uploaded, env.upload(t, fmt.Sprintf("p%d.png", i), "alice"))
	}

	seen := map[string]bool{}
	var all []*models.Photo
	cursor := ""
	for pages := 0; ; pages++ {
		if pages > 10 {
			t.Fatal("pagination did not terminate")
		}
		page, err := env.photos.ListPhotos(ctx, 3, cursor)
		if err != nil {
			t.Fatalf("ListPhotos: %v", err)
		}
		if len(page.Photos) > 3 {
			t.Fatalf("page has %d photos, limit 3", len(page.Photos))
		}
		for _, p := range page.Photos {
			if seen[p.ID] {
				t.Fatalf("photo %s returned twice", p.ID)
			}
			seen[p.ID] = true
		}
		all = append(all, page.Photos...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if len(all) != len(uploaded) {
		t.Fatalf("paged through %d photos, want %d", len(all), len(uploaded))
	}
	for i := 1; i < len(all); i++ {
		if !all[i].Timestamp.Before(all[i-1].Timestamp) && !(all[i].Timestamp.Equal(all[i-1].Timestamp) && all[i].ID < all[i-1].ID) {
			t.Errorf("photos %d and %d out of order", i-1, i)
		}
	}

	if _, err := env.photos.ListPhotos(ctx, 3, "%%%"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad cursor error = %v, want ErrInvalidInput", err)
	}
}

func TestToggleLikeIsInvolution(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.upload(t, "a.png", "alice")

	steps := []struct {
		user      string
		wantCount int
		wantLiked bool
	}{
		{"bob", 1, true},
		{"carol", 2, true},
		{"bob", 1, false},
		{"bob", 2, true},
		{"carol", 1, false},
		{"bob", 0, false},
	}
	for i, step := range steps {
		res, err := env.photos.ToggleLike(ctx, id, step.user)
		if err != nil {
			t.Fatalf("step %d: ToggleLike: %v", i, err)
		}
		if res.LikeCount != step.wantCount || res.IsFavoritedByViewer != step.wantLiked {
			t.Fatalf("step %d: got %+v, want count %d liked %v", i, res, step.wantCount, step.wantLiked)
		}
		photo, err := env.photoStore.GetByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if photo.LikeCount != len(photo.LikedBy) {
			t.Fatalf("step %d: likeCount %d != |likedBy| %d", i, photo.LikeCount, len(photo.LikedBy))
		}
	}

	if _, err := env.photos.ToggleLike(ctx, "missing", "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing photo error = %v, want ErrNotFound", err)
	}
}

func TestListFavoritedPhotos(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "bob")

	a := env.upload(t, "a.png", "alice")
	_ = env.upload(t, "b.png", "alice")
	c := env.upload(t, "c.png", "alice")

	for _, id := range []string{a, c} {
		if _, err := env.photos.ToggleLike(ctx, id, "bob"); err != nil {
			t.Fatal(err)
		}
	}

	favs, err := env.photos.ListFavoritedPhotos(ctx, "bob")
	if err != nil {
		t.Fatalf("ListFavoritedPhotos: %v", err)
	}
	got := ids(favs)
	slices.Sort(got)
	want := []string{a, c}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Fatalf("favorites = %v, want %v", got, want)
	}
	for _, p := range favs {
		if !p.IsFavoritedByViewer {
			t.Errorf("photo %s not marked favorited", p.ID)
		}
	}

	user, _ := env.users.GetUser(ctx, "bob")
	if len(user.FavoritedPhotoIDs) != 2 {
		t.Errorf("user favorites = %v, want 2 entries", user.FavoritedPhotoIDs)
	}
}

func TestDeletePhoto(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.upload(t, "a.png", "alice")
	photo, _ := env.photoStore.GetByID(ctx, id)

	if err := env.photos.DeletePhoto(ctx, id, "bob"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-owner delete error = %v, want ErrForbidden", err)
	}
	if _, err := env.photoStore.GetByID(ctx, id); err != nil {
		t.Fatalf("photo gone after forbidden delete: %v", err)
	}
	if _, err := env.blobs.Get(ctx, photo.StorageKey); err != nil {
		t.Fatalf("blob gone after forbidden delete: %v", err)
	}

	if err := env.photos.DeletePhoto(ctx, id, "alice"); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	page, _ := env.photos.ListPhotos(ctx, 10, "")
	if len(page.Photos) != 0 {
		t.Errorf("ListPhotos still returns %v", ids(page.Photos))
	}
	mine, _ := env.photos.ListPhotosByAuthor(ctx, "alice")
	if len(mine) != 0 {
		t.Errorf("ListPhotosByAuthor still returns %v", ids(mine))
	}
	if _, err := env.blobs.Get(ctx, photo.StorageKey); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("blob still present: %v", err)
	}

	if err := env.photos.DeletePhoto(ctx, id, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestDeletePhotoBlobFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.upload(t, "a.png", "alice")

	svc := NewPhotoService(env.photoStore, nil, &failingBlobs{Storage: env.blobs, deleteErr: errors.New("timeout")}, nil, 0)
	if err := svc.DeletePhoto(ctx, id, "alice"); !errors.Is(err, ErrDeleteFailed) {
		t.Fatalf("error = %v, want ErrDeleteFailed", err)
	}
	if _, err := env.photoStore.GetByID(ctx, id); err != nil {
		t.Errorf("record removed although blob delete failed: %v", err)
	}
}

func TestGalleryScenario(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "A")
	env.createUser(t, "B")

	x := env.upload(t, "x.png", "A")

	byA, _ := env.photos.ListPhotosByAuthor(ctx, "A")
	if !slices.Contains(ids(byA), x) {
		t.Fatalf("ListPhotosByAuthor(A) = %v, missing %s", ids(byA), x)
	}

	if _, err := env.photos.ToggleLike(ctx, x, "B"); err != nil {
		t.Fatal(err)
	}
	favB, _ := env.photos.ListFavoritedPhotos(ctx, "B")
	if len(favB) != 1 || favB[0].ID != x || favB[0].LikeCount != 1 {
		t.Fatalf("favorites after like = %+v", favB)
	}

	if _, err := env.photos.ToggleLike(ctx, x, "B"); err != nil {
		t.Fatal(err)
	}
	favB, _ = env.photos.ListFavoritedPhotos(ctx, "B")
	if len(favB) != 0 {
		t.Fatalf("favorites after unlike = %v", ids(favB))
	}
	photo, _ := env.photos.GetPhoto(ctx, x, "B")
	if photo.LikeCount != 0 || photo.IsFavoritedByViewer {
		t.Fatalf("photo after unlike = %+v", photo)
	}

	if err := env.photos.DeletePhoto(ctx, x, "B"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("B delete error = %v, want ErrForbidden", err)
	}
	if err := env.photos.DeletePhoto(ctx, x, "A"); err != nil {
		t.Fatalf("A delete: %v", err)
	}
	page, _ := env.photos.ListPhotos(ctx, DefaultPageSize, "")
	if slices.Contains(ids(page.Photos), x) {
		t.Fatalf("deleted photo still listed")
	}
}

// blockingNotifier holds every notification until release is closed
type blockingNotifier struct {
	release chan struct{}

	mu    sync.Mutex
	calls []string
}

func (n *blockingNotifier) PhotoLiked(ctx context.Context, author *models.User, photo *models.Photo, likeCount int) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, fmt.Sprintf("%s:%s:%d", author.ID, photo.ID, likeCount))
	return nil
}

func TestToggleLikeDoesNotWaitForNotification(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	db, err := repository.OpenBolt(filepath.Join(dir, "gallery.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	blobs, err := storage.NewLocalStorage(filepath.Join(dir, "blobs.db"), "http://gallery.test/blobs")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { blobs.Close() })

	notifier := &blockingNotifier{release: make(chan struct{})}
	svc := NewPhotoService(db.Photos(), db.Users(), blobs, notifier, 1<<20)
	t.Cleanup(svc.Wait)
	ctx := context.Background()

	if _, err := NewUserService(db.Users()).CreateUser(ctx, &models.User{ID: "alice", Name: "Alice"}); err != nil {
		t.Fatal(err)
	}
	id, err := svc.UploadPhoto(ctx, UploadInput{
		File:        bytes.NewReader(pngBytes),
		Filename:    "a.png",
		Size:        int64(len(pngBytes)),
		DisplayName: "Alice",
		AuthorID:    "alice",
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.ToggleLike(ctx, id, "bob")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ToggleLike: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ToggleLike waited on the notifier")
	}

	// Self-likes and unlikes are not notified.
	if _, err := svc.ToggleLike(ctx, id, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ToggleLike(ctx, id, "bob"); err != nil {
		t.Fatal(err)
	}

	close(notifier.release)
	svc.Wait()

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if want := []string{"alice:" + id + ":1"}; !slices.Equal(notifier.calls, want) {
		t.Errorf("notifications = %v, want %v", notifier.calls, want)
	}
}
