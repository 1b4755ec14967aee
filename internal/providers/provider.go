// Package providers defines the provider table that drives the generic
// handshake.
//
// Every supported platform is a Descriptor: URL templates, scope defaults,
// token shape, profile extraction. The four protocol variants (plain OAuth2,
// OAuth1, Mastodon-style dynamic app registration, IndieAuth endpoint
// discovery) are the only code paths; everything else is data.
//
// Design patterns:
//   - Strategy: each descriptor selects a protocol strategy
//   - Registry: name -> configured provider instance
//   - Adapter: normalize provider responses to common token/profile shapes
package providers

import (
	"encoding/json"
	"fmt"

	"github.com/snarfed/oauth-dropins/internal/oauth1"
)

// Protocol selects the handshake variant.
type Protocol string

const (
	ProtocolOAuth2    Protocol = "oauth2"
	ProtocolOAuth1    Protocol = "oauth1"
	ProtocolMastodon  Protocol = "mastodon"
	ProtocolIndieAuth Protocol = "indieauth"
)

// AuthStyle is how API calls carry the credential.
type AuthStyle string

const (
	AuthStyleBearerHeader AuthStyle = "header"
	AuthStyleQueryParam   AuthStyle = "query"
	AuthStyleOAuth1       AuthStyle = "oauth1"
)

// Descriptor describes one provider. Descriptors are static configuration
// data; see catalog.go.
type Descriptor struct {
	Name  string // module name, used in routes, eg "github"
	Label string // human-readable, eg "GitHub"

	Protocol  Protocol
	AuthStyle AuthStyle

	// OAuth2 endpoints. For ProtocolMastodon these are paths joined to the
	// instance URL; for ProtocolIndieAuth they are discovered per user.
	AuthURL    string
	TokenURL   string
	ProfileURL string

	// ProfileMethod overrides the profile fetch verb. Default GET; Dropbox
	// wants POST.
	ProfileMethod string

	// OAuth1 endpoints, only for ProtocolOAuth1.
	OAuth1 oauth1.Endpoints

	DefaultScope   string
	ScopeSeparator string // default ","

	// OAuth1ScopeParam names the authorize-URL query parameter that carries
	// the scope for OAuth1 providers that have one, eg Flickr's "perms".
	OAuth1ScopeParam string

	// ExtraAuthParams are appended to the authorization URL, eg Google's
	// access_type=offline.
	ExtraAuthParams map[string]string

	// UsePKCE sends an S256 code challenge and the matching verifier.
	UsePKCE bool

	// TokenParamAuth sends client credentials in the token-exchange form
	// body instead of basic auth (most providers want this).
	BasicAuthToken bool

	// UserID extracts the provider's durable user identifier from the
	// profile document. Required when ProfileURL is set.
	UserID func(profile []byte) string

	// DisplayName extracts a human-readable identifier; best effort.
	DisplayName func(profile []byte) string
}

// Config is the deployment configuration for one provider app.
type Config struct {
	ClientID     string
	ClientSecret string
}

func (d Descriptor) scopeSeparator() string {
	if d.ScopeSeparator == "" {
		return ","
	}
	return d.ScopeSeparator
}

// Validate checks the descriptor is internally consistent.
func (d Descriptor) Validate() error {
	if d.Name == "" || d.Label == "" {
		return fmt.Errorf("providers: descriptor missing name or label")
	}
	switch d.Protocol {
	case ProtocolOAuth2:
		if d.AuthURL == "" || d.TokenURL == "" {
			return fmt.Errorf("providers: %s: oauth2 descriptor missing endpoints", d.Name)
		}
	case ProtocolOAuth1:
		if d.OAuth1.RequestTokenURL == "" || d.OAuth1.AuthorizeURL == "" || d.OAuth1.AccessTokenURL == "" {
			return fmt.Errorf("providers: %s: oauth1 descriptor missing endpoints", d.Name)
		}
	case ProtocolMastodon, ProtocolIndieAuth:
		// endpoints are per-instance
	default:
		return fmt.Errorf("providers: %s: unknown protocol %q", d.Name, d.Protocol)
	}
	if d.ProfileURL != "" && d.UserID == nil {
		return fmt.Errorf("providers: %s: profile URL without user id extractor", d.Name)
	}
	return nil
}

// JSON field helpers for UserID/DisplayName extractors. They tolerate both
// string and numeric ids and missing fields, returning "".

func jsonString(profile []byte, path ...string) string {
	var cur any
	if err := json.Unmarshal(profile, &cur); err != nil {
		return ""
	}
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[key]
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return trimFloat(v)
	default:
		return ""
	}
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}

// firstJSONString returns the first non-empty extraction among paths.
func firstJSONString(profile []byte, paths ...[]string) string {
	for _, p := range paths {
		if s := jsonString(profile, p...); s != "" {
			return s
		}
	}
	return ""
}
