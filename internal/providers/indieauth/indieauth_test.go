package indieauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMe(t *testing.T) {
	got, err := NormalizeMe("snarfed.org")
	require.NoError(t, err)
	assert.Equal(t, "https://snarfed.org", got)

	got, err = NormalizeMe("http://snarfed.org/")
	require.NoError(t, err)
	assert.Equal(t, "http://snarfed.org/", got)

	_, err = NormalizeMe("")
	assert.Error(t, err)
}

func TestLinkHeaderRel(t *testing.T) {
	assert.Equal(t, "https://site.example/auth",
		linkHeaderRel(`<https://site.example/auth>; rel="authorization_endpoint"`, "authorization_endpoint"))
	assert.Equal(t, "/auth",
		linkHeaderRel(`</auth>; rel=authorization_endpoint`, "authorization_endpoint"))
	assert.Equal(t, "https://site.example/token",
		linkHeaderRel(`<https://a>; rel="other", <https://site.example/token>; rel="token_endpoint me"`, "token_endpoint"))
	assert.Equal(t, "",
		linkHeaderRel(`<https://a>; rel="authorization_endpoint"`, "token_endpoint"))
}

func TestDiscoverFromHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Link", `</auth>; rel="authorization_endpoint"`)
		w.Header().Add("Link", `</token>; rel="token_endpoint"`)
		w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	eps, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/auth", eps.Authorization)
	assert.Equal(t, srv.URL+"/token", eps.Token)
}

func TestDiscoverFromHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head>
			<link rel="authorization_endpoint" href="https://auth.example/authorize">
			<link rel="token_endpoint" href="/token">
		</head><body></body></html>`))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	eps, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example/authorize", eps.Authorization)
	assert.Equal(t, srv.URL+"/token", eps.Token)
}

func TestDiscoverHeadersWinOverHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Link", `<https://header.example/auth>; rel="authorization_endpoint"`)
		w.Write([]byte(`<html><head><link rel="authorization_endpoint" href="https://html.example/auth"></head></html>`))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	eps, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://header.example/auth", eps.Authorization)
}

func TestDiscoverFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>no endpoints here</html>"))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	eps, err := d.Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, FallbackAuthorizationEndpoint, eps.Authorization)
	assert.Empty(t, eps.Token)
}

func TestRedeem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "c0de", r.PostForm.Get("code"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"me": "https://snarfed.org/"}`))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	me, raw, err := d.Redeem(context.Background(), srv.URL, url.Values{"code": {"c0de"}})
	require.NoError(t, err)
	assert.Equal(t, "https://snarfed.org/", me)
	assert.Contains(t, string(raw), "snarfed.org")
}

func TestRedeemFormEncoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("me=https%3A%2F%2Fsnarfed.org%2F"))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	me, _, err := d.Redeem(context.Background(), srv.URL, url.Values{})
	require.NoError(t, err)
	assert.Equal(t, "https://snarfed.org/", me)
}

func TestRedeemNoMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.Client())
	_, _, err := d.Redeem(context.Background(), srv.URL, url.Values{})
	assert.ErrorContains(t, err, "no me URL")
}
