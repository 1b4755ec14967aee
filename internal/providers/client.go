package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarfed/oauth-dropins/internal/classify"
	"github.com/snarfed/oauth-dropins/internal/oauth1"
)

// Token is access credential material: a bearer token for OAuth2 providers
// or a (key, secret) pair for OAuth1 ones.
type Token struct {
	Access  string `json:"access_token,omitempty"`
	Refresh string `json:"refresh_token,omitempty"`

	Key    string `json:"token_key,omitempty"`
	Secret string `json:"token_secret,omitempty"`

	TokenType string `json:"token_type,omitempty"`
	ExpiresIn int    `json:"expires_in,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// IsPair reports whether this is an OAuth1 (key, secret) credential.
func (t Token) IsPair() bool { return t.Key != "" || t.Secret != "" }

// Client binds a Descriptor to one app's configuration and performs the
// provider-facing HTTP calls.
type Client struct {
	Desc   Descriptor
	Config Config

	http *http.Client
}

// NewClient creates a Client. httpClient may be nil, in which case a
// 10 second timeout client is used.
func NewClient(desc Descriptor, cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Desc: desc, Config: cfg, http: httpClient}
}

// HTTP exposes the underlying client for the protocol subpackages.
func (c *Client) HTTP() *http.Client { return c.http }

// OAuth1Client builds the three-leg OAuth1 client for this provider.
func (c *Client) OAuth1Client(callbackURL string) *oauth1.Client {
	return oauth1.New(c.Config.ClientID, c.Config.ClientSecret, callbackURL, c.Desc.OAuth1, c.http)
}

// MergeScopes combines the provider default scope with caller-requested
// extras: set union, provider separator, no duplicates, stable order
// (defaults first).
func (c *Client) MergeScopes(extra []string) string {
	sep := c.Desc.scopeSeparator()
	seen := map[string]bool{}
	var out []string
	add := func(scopes string) {
		for _, s := range strings.Split(scopes, sep) {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	add(c.Desc.DefaultScope)
	for _, e := range extra {
		add(e)
	}
	return strings.Join(out, sep)
}

// AuthorizationURL builds the consent-screen URL. authURL overrides the
// descriptor endpoint for per-instance protocols; pass "" otherwise.
func (c *Client) AuthorizationURL(authURL, redirectURI, scope, state string, extra map[string]string) (string, error) {
	if authURL == "" {
		authURL = c.Desc.AuthURL
	}
	u, err := url.Parse(authURL)
	if err != nil {
		return "", fmt.Errorf("providers: %s: parse auth url: %w", c.Desc.Name, err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", c.Config.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	if scope != "" {
		q.Set("scope", scope)
	}
	for k, v := range c.Desc.ExtraAuthParams {
		q.Set(k, v)
	}
	for k, v := range extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Exchange trades an authorization code for a token at the provider's
// token endpoint. tokenURL overrides the descriptor endpoint for
// per-instance protocols; verifier is the PKCE code verifier, empty when
// the provider doesn't use PKCE.
func (c *Client) Exchange(ctx context.Context, tokenURL, code, redirectURI, verifier string) (*Token, error) {
	if tokenURL == "" {
		tokenURL = c.Desc.TokenURL
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	if !c.Desc.BasicAuthToken {
		form.Set("client_id", c.Config.ClientID)
		form.Set("client_secret", c.Config.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.Desc.BasicAuthToken {
		req.SetBasicAuth(c.Config.ClientID, c.Config.ClientSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: tokenURL}
	}

	tok, err := parseTokenResponse(body)
	if err != nil {
		return nil, fmt.Errorf("providers: %s: %w", c.Desc.Name, err)
	}
	if tok.Access == "" {
		// Some providers put OAuth-style errors in 200 bodies.
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: tokenURL}
	}
	return tok, nil
}

// parseTokenResponse decodes a token endpoint body. JSON is the norm;
// a few older providers still answer form-encoded.
func parseTokenResponse(body []byte) (*Token, error) {
	var tok Token
	if err := json.Unmarshal(body, &tok); err == nil {
		return &tok, nil
	}

	vals, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	return &Token{
		Access:    vals.Get("access_token"),
		Refresh:   vals.Get("refresh_token"),
		TokenType: vals.Get("token_type"),
		Scope:     vals.Get("scope"),
	}, nil
}

// FetchProfile fetches the provider's minimal profile document with the
// given credential. profileURL overrides the descriptor endpoint; pass ""
// otherwise. Non-2xx responses come back as *classify.HTTPError.
func (c *Client) FetchProfile(ctx context.Context, profileURL string, tok Token) ([]byte, error) {
	if profileURL == "" {
		profileURL = c.Desc.ProfileURL
	}
	method := c.Desc.ProfileMethod
	if method == "" {
		method = http.MethodGet
	}
	resp, err := c.AuthorizedRequest(ctx, method, profileURL, nil, tok)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// AuthorizedRequest issues an outbound API call with the credential
// attached per the descriptor's auth style. Non-2xx responses are drained
// and returned as *classify.HTTPError.
func (c *Client) AuthorizedRequest(ctx context.Context, method, rawURL string, body io.Reader, tok Token) (*http.Response, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("providers: %s: no URL", c.Desc.Name)
	}

	switch c.Desc.AuthStyle {
	case AuthStyleQueryParam:
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("access_token", tok.Access)
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	switch c.Desc.AuthStyle {
	case AuthStyleBearerHeader:
		req.Header.Set("Authorization", "Bearer "+tok.Access)
	case AuthStyleOAuth1:
		c.OAuth1Client("").SignRequest(req, &oauth1.TokenPair{Key: tok.Key, Secret: tok.Secret})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(b), URL: rawURL}
	}
	return resp, nil
}
