// Package oauth1 implements the three-legged OAuth 1.0a flow (RFC 5849)
// used by Twitter, Tumblr and Flickr: fetch a request token, send the user
// to the authorize page, then trade the verifier for an access token pair.
// Requests are signed with HMAC-SHA1.
package oauth1

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarfed/oauth-dropins/internal/classify"
)

// Endpoints are one provider's OAuth 1.0a URLs.
type Endpoints struct {
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
}

// Client is a three-legged OAuth 1.0a client for one provider app.
type Client struct {
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	Endpoints      Endpoints

	http *http.Client
}

// New creates a Client. httpClient may be nil, in which case a 10 second
// timeout client is used.
func New(consumerKey, consumerSecret, callbackURL string, eps Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		CallbackURL:    callbackURL,
		Endpoints:      eps,
		http:           httpClient,
	}
}

// TokenPair is an OAuth1 (key, secret) credential.
type TokenPair struct {
	Key    string
	Secret string
}

// RequestToken fetches a temporary request token. The returned key is the
// exchange-record key: the provider echoes it back as oauth_token in the
// callback.
func (c *Client) RequestToken(ctx context.Context) (*TokenPair, error) {
	params := c.protocolParams()
	params["oauth_callback"] = c.CallbackURL

	vals, err := c.tokenCall(ctx, c.Endpoints.RequestTokenURL, params, "")
	if err != nil {
		return nil, fmt.Errorf("oauth1: request token: %w", err)
	}
	if vals.Get("oauth_callback_confirmed") != "true" {
		return nil, fmt.Errorf("oauth1: callback not confirmed by provider")
	}
	return &TokenPair{Key: vals.Get("oauth_token"), Secret: vals.Get("oauth_token_secret")}, nil
}

// AuthorizeURL returns the user-facing authorization URL for a request
// token.
func (c *Client) AuthorizeURL(requestTokenKey string) string {
	u, _ := url.Parse(c.Endpoints.AuthorizeURL)
	q := u.Query()
	q.Set("oauth_token", requestTokenKey)
	u.RawQuery = q.Encode()
	return u.String()
}

// AccessToken trades a verified request token for the permanent access
// token pair.
func (c *Client) AccessToken(ctx context.Context, requestToken *TokenPair, verifier string) (*TokenPair, error) {
	params := c.protocolParams()
	params["oauth_token"] = requestToken.Key
	params["oauth_verifier"] = verifier

	vals, err := c.tokenCall(ctx, c.Endpoints.AccessTokenURL, params, requestToken.Secret)
	if err != nil {
		return nil, fmt.Errorf("oauth1: access token: %w", err)
	}
	key, secret := vals.Get("oauth_token"), vals.Get("oauth_token_secret")
	if key == "" || secret == "" {
		return nil, fmt.Errorf("oauth1: provider returned no token pair")
	}
	return &TokenPair{Key: key, Secret: secret}, nil
}

// SignRequest adds an OAuth Authorization header to an arbitrary API
// request, signing with the given access token pair. Query parameters are
// included in the signature; request bodies are not (use query or
// form-less requests, which is all the wrapped APIs need).
func (c *Client) SignRequest(req *http.Request, token *TokenPair) {
	params := c.protocolParams()
	params["oauth_token"] = token.Key

	all := url.Values{}
	for k, vs := range req.URL.Query() {
		for _, v := range vs {
			all.Add(k, v)
		}
	}
	for k, v := range params {
		all.Set(k, v)
	}

	base := baseString(req.Method, req.URL.String(), all)
	params["oauth_signature"] = sign(base, c.ConsumerSecret, token.Secret)
	req.Header.Set("Authorization", authorizationHeader(params))
}

func (c *Client) protocolParams() map[string]string {
	return map[string]string{
		"oauth_consumer_key":     c.ConsumerKey,
		"oauth_nonce":            nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        timestamp(),
		"oauth_version":          "1.0",
	}
}

// tokenCall POSTs to a token endpoint with a signed Authorization header
// and parses the form-encoded response.
func (c *Client) tokenCall(ctx context.Context, endpoint string, oauthParams map[string]string, tokenSecret string) (url.Values, error) {
	all := url.Values{}
	for k, v := range oauthParams {
		all.Set(k, v)
	}
	base := baseString(http.MethodPost, endpoint, all)
	oauthParams["oauth_signature"] = sign(base, c.ConsumerSecret, tokenSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authorizationHeader(oauthParams))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: endpoint}
	}

	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	return vals, nil
}
