package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"guest-gallery-backend/internal/config"
	"guest-gallery-backend/internal/handlers"
	"guest-gallery-backend/internal/hub"
	"guest-gallery-backend/internal/middleware"
	"guest-gallery-backend/internal/models"
	"guest-gallery-backend/internal/query"
	"guest-gallery-backend/internal/repository"
	"guest-gallery-backend/internal/services"
	"guest-gallery-backend/internal/session"
	"guest-gallery-backend/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}, make([]byte, 64)...)

type fakeProvider struct{}

func (fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state)
}

func (fakeProvider) Exchange(ctx context.Context, code string) (session.Identity, error) {
	return session.Identity{Subject: "google-" + code, Name: "Guest " + code, Email: code + "@example.com"}, nil
}

type testServer struct {
	*httptest.Server
	manager *session.Manager
	queries *query.Client
}

func newTestServer(t *testing.T) *testServer {
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

	cfg := config.Default()
	registry := prometheus.NewRegistry()
	queryCache := query.NewCache(cfg.Cache, registry)
	photoService := services.NewPhotoService(db.Photos(), db.Users(), blobs, nil, cfg.Upload.MaxBytes)
	queries := query.NewClient(
		photoService,
		services.NewUserService(db.Users()),
		queryCache,
	)
	manager := session.NewManager(session.NewTokens("test-secret", time.Hour), session.NewProvisioner(queries))

	srv := httptest.NewServer(NewRouter(Deps{
		Queries:  queries,
		Sessions: manager,
		Provider: fakeProvider{},
		Hub:      hub.New(queries),
		Blobs:    blobs,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Upload:   cfg.Upload,
	}))
	t.Cleanup(func() {
		srv.Close()
		queryCache.Wait()
		photoService.Wait()
	})

	return &testServer{Server: srv, manager: manager, queries: queries}
}

func (s *testServer) signIn(t *testing.T, subject, name string) string {
	t.Helper()
	token, _, err := s.manager.SignIn(context.Background(), session.Identity{Subject: subject, Name: name})
	if err != nil {
		t.Fatalf("SignIn(%s): %v", subject, err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) upload(t *testing.T, token string, names ...string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("source", handlers.SourceCamera)
	for _, name := range names {
		fw, err := mw.CreateFormFile("photo", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(pngBytes)
	}
	mw.Close()
	return s.do(t, http.MethodPost, "/api/v1/photos", token, &body, mw.FormDataContentType())
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", resp.Request.URL.Path, err)
	}
}

func TestRouterAccessControl(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"landing is public", http.MethodGet, "/", http.StatusOK},
		{"shared list is public", http.MethodGet, "/api/v1/photos", http.StatusOK},
		{"my photos needs a session", http.MethodGet, "/my-photos", http.StatusUnauthorized},
		{"shared page needs a session", http.MethodGet, "/shared-photos", http.StatusUnauthorized},
		{"like needs a session", http.MethodPost, "/api/v1/photos/p1/like", http.StatusUnauthorized},
		{"delete needs a session", http.MethodDelete, "/api/v1/photos/p1", http.StatusUnauthorized},
		{"me needs a session", http.MethodGet, "/api/v1/me", http.StatusUnauthorized},
		{"unknown photo", http.MethodGet, "/api/v1/photos/missing", http.StatusNotFound},
		{"unknown route redirects home", http.MethodGet, "/nowhere", http.StatusFound},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/v1/photos", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, tt.method, tt.path, "", nil, "")
			if resp.StatusCode != tt.status {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.status)
			}
		})
	}

	resp := srv.do(t, http.MethodGet, "/nowhere", "", nil, "")
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("redirect Location = %q, want /", loc)
	}
}

func TestRouterSession(t *testing.T) {
	srv := newTestServer(t)

	var anon handlers.SessionResponse
	decode(t, srv.do(t, http.MethodGet, "/auth/session", "", nil, ""), &anon)
	if anon.State != "signed_out" || anon.User != nil || anon.DisplayName != models.AnonymousAuthor {
		t.Errorf("anonymous session = %+v", anon)
	}

	token := srv.signIn(t, "ana", "Ana")
	var signedIn handlers.SessionResponse
	decode(t, srv.do(t, http.MethodGet, "/auth/session", token, nil, ""), &signedIn)
	if signedIn.State != "signed_in" || signedIn.User == nil || signedIn.User.Subject != "ana" || signedIn.ExpiresAt == nil {
		t.Errorf("signed-in session = %+v", signedIn)
	}

	var me models.User
	decode(t, srv.do(t, http.MethodGet, "/api/v1/me", token, nil, ""), &me)
	if me.ID != "ana" || me.Name != "Ana" {
		t.Errorf("me = %+v, want provisioned profile", me)
	}

	if resp := srv.do(t, http.MethodPost, "/auth/logout", token, nil, ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout = %d", resp.StatusCode)
	}
	if resp := srv.do(t, http.MethodGet, "/api/v1/me", token, nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout = %d, want 401", resp.StatusCode)
	}
}

func TestRouterGoogleSignIn(t *testing.T) {
	srv := newTestServer(t)

	resp := srv.do(t, http.MethodGet, "/auth/google", "", nil, "")
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("login = %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("login redirect carries no state")
	}

	if resp := srv.do(t, http.MethodGet, "/auth/google/callback?code=abc&state="+state, "", nil, ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("callback without state cookie = %d, want 400", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: state})
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err = client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("callback = %d, want 303", resp.StatusCode)
	}

	var token string
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie {
			token = c.Value
		}
	}
	if token == "" {
		t.Fatal("callback did not set the session cookie")
	}

	user, err := srv.queries.User(context.Background(), "google-abc")
	if err != nil || user == nil {
		t.Fatalf("user after sign-in = %v, %v", user, err)
	}
	if user.Email != "abc@example.com" {
		t.Errorf("provisioned email = %q", user.Email)
	}
}

func TestRouterPhotoFlow(t *testing.T) {
	srv := newTestServer(t)
	ana := srv.signIn(t, "ana", "Ana")
	bob := srv.signIn(t, "bob", "Bob")

	resp := srv.upload(t, ana, "a.png", "b.png")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload = %d", resp.StatusCode)
	}
	var uploaded handlers.UploadResponse
	decode(t, resp, &uploaded)
	if len(uploaded.PhotoIDs) != 2 || uploaded.Source != handlers.SourceCamera {
		t.Fatalf("upload response = %+v", uploaded)
	}
	photoID := uploaded.PhotoIDs[0]

	var page services.Page
	decode(t, srv.do(t, http.MethodGet, "/api/v1/photos", bob, nil, ""), &page)
	if len(page.Photos) != 2 || page.Photos[0].Author != "Ana" {
		t.Fatalf("shared list = %+v", page.Photos)
	}

	blobURL, err := url.Parse(page.Photos[0].URL)
	if err != nil {
		t.Fatal(err)
	}
	blob := srv.do(t, http.MethodGet, blobURL.Path, "", nil, "")
	if blob.StatusCode != http.StatusOK || blob.Header.Get("Content-Type") != "image/png" {
		t.Errorf("blob = %d %q", blob.StatusCode, blob.Header.Get("Content-Type"))
	}

	var like models.LikeResult
	decode(t, srv.do(t, http.MethodPost, "/api/v1/photos/"+photoID+"/like", bob, nil, ""), &like)
	if !like.IsFavoritedByViewer || like.LikeCount != 1 {
		t.Errorf("like = %+v", like)
	}

	var favorites struct {
		Photos []*models.Photo `json:"photos"`
	}
	decode(t, srv.do(t, http.MethodGet, "/api/v1/users/bob/favorites", bob, nil, ""), &favorites)
	if len(favorites.Photos) != 1 || favorites.Photos[0].ID != photoID || !favorites.Photos[0].IsFavoritedByViewer {
		t.Errorf("favorites = %+v", favorites.Photos)
	}

	var mine handlers.MyPhotosView
	decode(t, srv.do(t, http.MethodGet, "/my-photos", ana, nil, ""), &mine)
	if len(mine.Uploaded) != 2 || len(mine.Favorites) != 0 {
		t.Errorf("my photos = %d uploaded, %d favorites", len(mine.Uploaded), len(mine.Favorites))
	}

	if resp := srv.do(t, http.MethodDelete, "/api/v1/photos/"+photoID, bob, nil, ""); resp.StatusCode != http.StatusForbidden {
		t.Errorf("delete by non-author = %d, want 403", resp.StatusCode)
	}
	if resp := srv.do(t, http.MethodDelete, "/api/v1/photos/"+photoID, ana, nil, ""); resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete by author = %d, want 204", resp.StatusCode)
	}
	if resp := srv.do(t, http.MethodGet, "/api/v1/photos/"+photoID, ana, nil, ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", resp.StatusCode)
	}
}

func TestRouterUploadRejectsNonImage(t *testing.T) {
	srv := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("photo", "notes.txt")
	fw.Write([]byte("just some text, not an image"))
	mw.Close()

	resp := srv.do(t, http.MethodPost, "/api/v1/photos", "", &body, mw.FormDataContentType())
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("upload of text = %d, want 400", resp.StatusCode)
	}
}

func TestWebSocketInvalidation(t *testing.T) {
	srv := newTestServer(t)
	token := srv.signIn(t, "ana", "Ana")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	read := func(want string) hub.Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			var msg hub.Message
			if err := conn.ReadJSON(&msg); err != nil {
				t.Fatalf("waiting for %q: %v", want, err)
			}
			if msg.Type == want {
				return msg
			}
		}
	}

	read(hub.TypeSession)

	listKey := query.PhotoListKey(services.DefaultPageSize, "")
	if err := conn.WriteJSON(hub.Message{Type: hub.TypeSubscribe, Keys: []string{listKey}}); err != nil {
		t.Fatal(err)
	}
	read(hub.TypeSubscribed)

	if resp := srv.upload(t, token, "a.png"); resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload = %d", resp.StatusCode)
	}

	invalidated := read(hub.TypeInvalidated)
	if len(invalidated.Keys) == 0 || invalidated.Keys[0] != query.KeyPhotos {
		t.Errorf("invalidated keys = %v", invalidated.Keys)
	}
	if refreshed := read(hub.TypeRefreshed); refreshed.Key != listKey {
		t.Errorf("refreshed key = %q, want %q", refreshed.Key, listKey)
	}

	if resp := srv.do(t, http.MethodGet, "/ws", "", nil, ""); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("ws without token = %d, want 401", resp.StatusCode)
	}
}
