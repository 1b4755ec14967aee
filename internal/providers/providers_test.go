package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarfed/oauth-dropins/internal/classify"
)

func TestCatalogValidates(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range Catalog() {
		require.NoError(t, d.Validate(), d.Name)
		require.False(t, seen[d.Name], "duplicate provider %s", d.Name)
		seen[d.Name] = true
	}
	assert.Len(t, seen, 20)
}

func TestCatalogExtractors(t *testing.T) {
	byName := map[string]Descriptor{}
	for _, d := range Catalog() {
		byName[d.Name] = d
	}

	github := byName["github"]
	profile := []byte(`{"login": "snarfed", "name": "Ryan"}`)
	assert.Equal(t, "snarfed", github.UserID(profile))
	assert.Equal(t, "Ryan", github.DisplayName(profile))
	assert.Equal(t, "snarfed", github.DisplayName([]byte(`{"login": "snarfed"}`)))

	// Numeric ids come back as strings without a trailing .0.
	wordpress := byName["wordpress"]
	assert.Equal(t, "12345", wordpress.UserID([]byte(`{"ID": 12345, "display_name": "Ryan"}`)))

	flickr := byName["flickr"]
	assert.Equal(t, "39216764@N00",
		flickr.UserID([]byte(`{"user": {"id": "39216764@N00", "username": {"_content": "kindofblue115"}}}`)))
	assert.Equal(t, "kindofblue115",
		flickr.DisplayName([]byte(`{"user": {"id": "x", "username": {"_content": "kindofblue115"}}}`)))

	// Garbage never panics.
	assert.Equal(t, "", github.UserID([]byte(`not json`)))
	assert.Equal(t, "", github.UserID([]byte(`[1, 2]`)))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(Catalog(), map[string]Config{
		"github": {ClientID: "id", ClientSecret: "secret"},
	}, nil)

	c, err := reg.Get("github")
	require.NoError(t, err)
	assert.Equal(t, "github", c.Desc.Name)

	// Same instance on repeat lookups.
	c2, err := reg.Get("github")
	require.NoError(t, err)
	assert.Same(t, c, c2)

	_, err = reg.Get("myspace")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	// Configured protocols fail fast without app credentials.
	_, err = reg.Get("google")
	assert.ErrorIs(t, err, ErrMissingConfiguration)
	_, err = reg.Get("twitter")
	assert.ErrorIs(t, err, ErrMissingConfiguration)

	// Dynamic-registration and no-app protocols never need config.
	_, err = reg.Get("mastodon")
	assert.NoError(t, err)
	_, err = reg.Get("indieauth")
	assert.NoError(t, err)

	names := reg.Available()
	assert.Len(t, names, 20)
	assert.Contains(t, names, "github")
	assert.True(t, sortedStrings(names))
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] < s[i-1] {
			return false
		}
	}
	return true
}

func TestMergeScopes(t *testing.T) {
	c := NewClient(Descriptor{Name: "x", DefaultScope: "openid profile", ScopeSeparator: " "}, Config{}, nil)
	assert.Equal(t, "openid profile", c.MergeScopes(nil))
	assert.Equal(t, "openid profile email", c.MergeScopes([]string{"email", "profile"}))

	comma := NewClient(Descriptor{Name: "y", DefaultScope: "read"}, Config{}, nil)
	assert.Equal(t, "read,write", comma.MergeScopes([]string{"write", "read"}))

	empty := NewClient(Descriptor{Name: "z"}, Config{}, nil)
	assert.Equal(t, "", empty.MergeScopes(nil))
	assert.Equal(t, "write", empty.MergeScopes([]string{"write"}))
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient(Descriptor{
		Name:            "x",
		AuthURL:         "https://provider.example/auth",
		ExtraAuthParams: map[string]string{"access_type": "offline"},
	}, Config{ClientID: "my-id"}, nil)

	got, err := c.AuthorizationURL("", "https://app.example/cb", "read", "st4te", map[string]string{
		"code_challenge": "abc", "code_challenge_method": "S256",
	})
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "my-id", q.Get("client_id"))
	assert.Equal(t, "https://app.example/cb", q.Get("redirect_uri"))
	assert.Equal(t, "st4te", q.Get("state"))
	assert.Equal(t, "read", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "abc", q.Get("code_challenge"))
}

func TestExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "c0de", r.PostForm.Get("code"))
		assert.Equal(t, "my-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "my-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "verif", r.PostForm.Get("code_verifier"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "tok", "refresh_token": "ref", "token_type": "bearer"}`))
	}))
	defer srv.Close()

	c := NewClient(Descriptor{Name: "x", AuthURL: "a", TokenURL: srv.URL},
		Config{ClientID: "my-id", ClientSecret: "my-secret"}, srv.Client())

	tok, err := c.Exchange(context.Background(), "", "c0de", "https://app.example/cb", "verif")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Access)
	assert.Equal(t, "ref", tok.Refresh)
}

func TestExchangeBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "my-id", user)
		assert.Equal(t, "my-secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Empty(t, r.PostForm.Get("client_secret"))
		w.Write([]byte(`{"access_token": "tok"}`))
	}))
	defer srv.Close()

	c := NewClient(Descriptor{Name: "reddit", AuthURL: "a", TokenURL: srv.URL, BasicAuthToken: true},
		Config{ClientID: "my-id", ClientSecret: "my-secret"}, srv.Client())

	tok, err := c.Exchange(context.Background(), "", "c0de", "cb", "")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Access)
}

func TestExchangeFormEncodedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("access_token=tok&token_type=bearer"))
	}))
	defer srv.Close()

	c := NewClient(Descriptor{Name: "x", AuthURL: "a", TokenURL: srv.URL}, Config{}, srv.Client())
	tok, err := c.Exchange(context.Background(), "", "c0de", "cb", "")
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.Access)
}

func TestExchangeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Descriptor{Name: "x", AuthURL: "a", TokenURL: srv.URL}, Config{}, srv.Client())
	_, err := c.Exchange(context.Background(), "", "bad", "cb", "")
	require.Error(t, err)

	var he *classify.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusBadRequest, he.StatusCode)
	assert.Contains(t, he.Body, "invalid_grant")
}

func TestAuthorizedRequestStyles(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Get("access_token")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	tok := Token{Access: "tok"}

	header := NewClient(Descriptor{Name: "x", AuthStyle: AuthStyleBearerHeader}, Config{}, srv.Client())
	resp, err := header.AuthorizedRequest(ctx, http.MethodGet, srv.URL, nil, tok)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Empty(t, gotQuery)

	query := NewClient(Descriptor{Name: "y", AuthStyle: AuthStyleQueryParam}, Config{}, srv.Client())
	resp, err = query.AuthorizedRequest(ctx, http.MethodGet, srv.URL+"?fields=id", nil, tok)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, gotAuth)
	assert.Equal(t, "tok", gotQuery)

	signed := NewClient(Descriptor{Name: "z", AuthStyle: AuthStyleOAuth1},
		Config{ClientID: "ck", ClientSecret: "cs"}, srv.Client())
	resp, err = signed.AuthorizedRequest(ctx, http.MethodGet, srv.URL, nil, Token{Key: "tk", Secret: "ts"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, gotAuth, "OAuth ")
	assert.Contains(t, gotAuth, `oauth_token="tk"`)
}

func TestFetchProfileError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "token has been revoked"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(Descriptor{Name: "x", AuthStyle: AuthStyleBearerHeader, ProfileURL: srv.URL}, Config{}, srv.Client())
	_, err := c.FetchProfile(context.Background(), "", Token{Access: "dead"})
	require.Error(t, err)

	// The body carries the dead-credential marker for the classifier.
	code, _ := classify.New().Classify(err)
	assert.Equal(t, "401", code)
}
