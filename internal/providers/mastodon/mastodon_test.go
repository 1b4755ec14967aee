package mastodon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarfed/oauth-dropins/internal/cache"
)

func TestNormalizeInstance(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"mastodon.social", "https://mastodon.social"},
		{"https://mastodon.social", "https://mastodon.social"},
		{"https://mastodon.social/web/home", "https://mastodon.social"},
		{"  mastodon.social  ", "https://mastodon.social"},
		{"@ryan@mastodon.social", "https://mastodon.social"},
		{"http://localhost:3000", "http://localhost:3000"},
	} {
		got, err := NormalizeInstance(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := NormalizeInstance("")
	assert.Error(t, err)
}

func TestVersionGates(t *testing.T) {
	ok := VersionExcludes("Pixelfed")
	assert.True(t, ok("4.2.8"))
	assert.False(t, ok("Pixelfed 0.12.1"))

	pf := VersionRequires("Pixelfed")
	assert.True(t, pf("Pixelfed 0.12.1"))
	assert.False(t, pf("4.2.8"))
}

func instanceServer(t *testing.T, version string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/instance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"uri": "inst.example", "title": "Test", "version": "` + version + `"}`))
	})
	mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test app", r.PostForm.Get("client_name"))
		assert.Contains(t, r.PostForm.Get("redirect_uris"), "oauth_callback")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_id": "cid", "client_secret": "csecret"}`))
	})
	return httptest.NewServer(mux)
}

func TestVerifyInstance(t *testing.T) {
	srv := instanceServer(t, "4.2.8")
	defer srv.Close()

	svc := NewService(NewAppStore(mustMemCache(t), 0), srv.Client(), VersionExcludes("Pixelfed"))
	base, err := svc.VerifyInstance(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, base)
}

func TestVerifyInstanceWrongSoftware(t *testing.T) {
	srv := instanceServer(t, "Pixelfed 0.12.1")
	defer srv.Close()

	svc := NewService(NewAppStore(mustMemCache(t), 0), srv.Client(), VersionExcludes("Pixelfed"))
	_, err := svc.VerifyInstance(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "unsupported software")

	// Same instance is fine for the Pixelfed gate.
	pf := NewService(NewAppStore(mustMemCache(t), 0), srv.Client(), VersionRequires("Pixelfed"))
	_, err = pf.VerifyInstance(context.Background(), srv.URL)
	assert.NoError(t, err)
}

func TestVerifyInstanceNotAnInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>hi</html>"))
	}))
	defer srv.Close()

	svc := NewService(NewAppStore(mustMemCache(t), 0), srv.Client(), nil)
	_, err := svc.VerifyInstance(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "doesn't look like an instance")
}

func TestEnsureAppRegistersOnce(t *testing.T) {
	var registrations int
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		registrations++
		w.Write([]byte(`{"client_id": "cid", "client_secret": "csecret"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	svc := NewService(NewAppStore(mustMemCache(t), 0), srv.Client(), nil)
	ctx := context.Background()

	app, err := svc.EnsureApp(ctx, srv.URL, "test app", "https://app.example/", []string{"https://app.example/mastodon/oauth_callback"})
	require.NoError(t, err)
	assert.Equal(t, "cid", app.ClientID)
	assert.Equal(t, "csecret", app.ClientSecret)
	assert.Equal(t, 1, registrations)

	// Second call reuses the stored app.
	again, err := svc.EnsureApp(ctx, srv.URL, "test app", "https://app.example/", nil)
	require.NoError(t, err)
	assert.Equal(t, app.ClientID, again.ClientID)
	assert.Equal(t, 1, registrations)

	// A different app URL is a different app.
	_, err = svc.EnsureApp(ctx, srv.URL, "test app", "https://other.example/", []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 2, registrations)
}

func TestAppStoreExpiry(t *testing.T) {
	store := NewAppStore(mustMemCache(t), time.Hour)
	ctx := context.Background()

	fresh := &App{Instance: "https://a.example", Name: "n", URL: "u", ClientID: "c", ClientSecret: "s", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Put(ctx, fresh))
	_, err := store.Get(ctx, "https://a.example", "n", "u")
	assert.NoError(t, err)

	stale := &App{Instance: "https://b.example", Name: "n", URL: "u", ClientID: "c", ClientSecret: "s",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, store.Put(ctx, stale))
	_, err = store.Get(ctx, "https://b.example", "n", "u")
	assert.True(t, cache.IsNotFound(err))
}

func mustMemCache(t *testing.T) cache.Client {
	t.Helper()
	c, err := cache.New(cache.Config{Driver: "memory"})
	require.NoError(t, err)
	return c
}
