package oauth1

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

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, "abcABC123", percentEncode("abcABC123"))
	assert.Equal(t, "-._~", percentEncode("-._~"))
	assert.Equal(t, "%25", percentEncode("%"))
	assert.Equal(t, "a%20b", percentEncode("a b"))
	assert.Equal(t, "%2B", percentEncode("+"))
	assert.Equal(t, "%E2%98%83", percentEncode("☃"))
}

func TestBaseString(t *testing.T) {
	// Example from RFC 5849 §3.4.1.1.
	params := url.Values{}
	params.Set("b5", "=%3D")
	params.Set("a3", "a")
	params.Add("a3", "2 q")
	params.Set("c@", "")
	params.Set("a2", "r b")
	params.Set("oauth_consumer_key", "9djdj82h48djs9d2")
	params.Set("oauth_token", "kkk9d7dh3k39sjv7")
	params.Set("oauth_signature_method", "HMAC-SHA1")
	params.Set("oauth_timestamp", "137131201")
	params.Set("oauth_nonce", "7d8f3e4a")
	params.Set("c2", "")

	got := baseString("POST", "http://example.com/request?b5=%3D%253D&a3=a&c%40=&a2=r%20b", params)
	want := "POST&http%3A%2F%2Fexample.com%2Frequest&a2%3Dr%2520b%26a3%3D2%2520q" +
		"%26a3%3Da%26b5%3D%253D%25253D%26c%2540%3D%26c2%3D%26oauth_consumer_key%3D" +
		"9djdj82h48djs9d2%26oauth_nonce%3D7d8f3e4a%26oauth_signature_method%3D" +
		"HMAC-SHA1%26oauth_timestamp%3D137131201%26oauth_token%3Dkkk9d7dh3k39sjv7"
	assert.Equal(t, want, got)
}

func TestSignKnownVector(t *testing.T) {
	// Twitter's published "Creating a signature" example.
	base := "POST&https%3A%2F%2Fapi.twitter.com%2F1.1%2Fstatuses%2Fupdate.json&" +
		"include_entities%3Dtrue%26oauth_consumer_key%3Dxvz1evFS4wEEPTGEFPHBog%26" +
		"oauth_nonce%3DkYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg%26" +
		"oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D1318622958%26" +
		"oauth_token%3D370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb%26" +
		"oauth_version%3D1.0%26status%3DHello%2520Ladies%2520%252B%2520Gentlemen" +
		"%252C%2520a%2520signed%2520OAuth%2520request%2521"
	got := sign(base,
		"kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
		"LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE")
	assert.Equal(t, "hCtSmYh+iHYCEqBWrE7C7hYmtUk=", got)
}

func TestRequestTokenFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		require.Contains(t, auth, `oauth_consumer_key="ck"`)
		require.Contains(t, auth, `oauth_signature=`)

		switch r.URL.Path {
		case "/request_token":
			require.Contains(t, auth, "oauth_callback=")
			w.Write([]byte("oauth_token=reqkey&oauth_token_secret=reqsecret&oauth_callback_confirmed=true"))
		case "/access_token":
			require.Contains(t, auth, `oauth_token="reqkey"`)
			require.Contains(t, auth, `oauth_verifier="v123"`)
			w.Write([]byte("oauth_token=acckey&oauth_token_secret=accsecret"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New("ck", "cs", "https://app.example/cb", Endpoints{
		RequestTokenURL: srv.URL + "/request_token",
		AuthorizeURL:    srv.URL + "/authorize",
		AccessTokenURL:  srv.URL + "/access_token",
	}, srv.Client())

	ctx := context.Background()
	req, err := c.RequestToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reqkey", req.Key)
	assert.Equal(t, "reqsecret", req.Secret)

	authURL := c.AuthorizeURL(req.Key)
	assert.Contains(t, authURL, "oauth_token=reqkey")

	acc, err := c.AccessToken(ctx, req, "v123")
	require.NoError(t, err)
	assert.Equal(t, "acckey", acc.Key)
	assert.Equal(t, "accsecret", acc.Secret)
}

func TestRequestTokenUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "consumer key rejected", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("ck", "cs", "cb", Endpoints{RequestTokenURL: srv.URL}, srv.Client())
	_, err := c.RequestToken(context.Background())
	require.Error(t, err)

	var he *classify.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusUnauthorized, he.StatusCode)
}

func TestSignRequest(t *testing.T) {
	c := New("ck", "cs", "", Endpoints{}, nil)
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/1.1/verify.json?a=1", nil)
	require.NoError(t, err)

	c.SignRequest(req, &TokenPair{Key: "tk", Secret: "ts"})

	auth := req.Header.Get("Authorization")
	assert.Contains(t, auth, "OAuth ")
	assert.Contains(t, auth, `oauth_token="tk"`)
	assert.Contains(t, auth, `oauth_signature="`)
}
