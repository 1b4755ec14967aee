package providers

import (
	"net/http"

	"github.com/snarfed/oauth-dropins/internal/oauth1"
)

// Catalog returns descriptors for every supported provider.
//
// Endpoint URLs and scope defaults follow each platform's published OAuth
// documentation. Profile extraction pulls the durable user id plus a
// best-effort display name from the smallest profile call the platform
// offers.
func Catalog() []Descriptor {
	return []Descriptor{
		{
			Name:      "blogger",
			Label:     "Blogger",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:   "https://oauth2.googleapis.com/token",
			ProfileURL: "https://openidconnect.googleapis.com/v1/userinfo",

			DefaultScope:   "https://www.blogger.com/feeds/",
			ScopeSeparator: " ",
			ExtraAuthParams: map[string]string{
				"access_type":            "offline",
				"prompt":                 "consent",
				"include_granted_scopes": "true",
			},

			UserID:      func(p []byte) string { return jsonString(p, "sub") },
			DisplayName: func(p []byte) string { return jsonString(p, "name") },
		},
		{
			Name:      "bluesky",
			Label:     "Bluesky",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://bsky.social/oauth/authorize",
			TokenURL:   "https://bsky.social/oauth/token",
			ProfileURL: "https://bsky.social/xrpc/com.atproto.server.getSession",

			DefaultScope:   "atproto transition:generic",
			ScopeSeparator: " ",
			UsePKCE:        true,

			UserID:      func(p []byte) string { return jsonString(p, "did") },
			DisplayName: func(p []byte) string { return jsonString(p, "handle") },
		},
		{
			Name:      "disqus",
			Label:     "Disqus",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleQueryParam,

			AuthURL:    "https://disqus.com/api/oauth/2.0/authorize/",
			TokenURL:   "https://disqus.com/api/oauth/2.0/access_token/",
			ProfileURL: "https://disqus.com/api/3.0/users/details.json",

			DefaultScope: "read",

			UserID:      func(p []byte) string { return jsonString(p, "response", "id") },
			DisplayName: func(p []byte) string { return jsonString(p, "response", "username") },
		},
		{
			Name:      "dropbox",
			Label:     "Dropbox",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:       "https://www.dropbox.com/oauth2/authorize",
			TokenURL:      "https://api.dropbox.com/oauth2/token",
			ProfileURL:    "https://api.dropboxapi.com/2/users/get_current_account",
			ProfileMethod: http.MethodPost,

			UserID:      func(p []byte) string { return jsonString(p, "account_id") },
			DisplayName: func(p []byte) string { return jsonString(p, "name", "display_name") },
		},
		{
			Name:      "facebook",
			Label:     "Facebook",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleQueryParam,

			AuthURL:    "https://www.facebook.com/v4.0/dialog/oauth",
			TokenURL:   "https://graph.facebook.com/v4.0/oauth/access_token",
			ProfileURL: "https://graph.facebook.com/v4.0/me?fields=id,name",

			DefaultScope: "public_profile",

			UserID:      func(p []byte) string { return jsonString(p, "id") },
			DisplayName: func(p []byte) string { return jsonString(p, "name") },
		},
		{
			Name:      "flickr",
			Label:     "Flickr",
			Protocol:  ProtocolOAuth1,
			AuthStyle: AuthStyleOAuth1,

			OAuth1: oauth1.Endpoints{
				RequestTokenURL: "https://www.flickr.com/services/oauth/request_token",
				AuthorizeURL:    "https://www.flickr.com/services/oauth/authorize",
				AccessTokenURL:  "https://www.flickr.com/services/oauth/access_token",
			},
			ProfileURL: "https://api.flickr.com/services/rest?method=flickr.test.login&format=json&nojsoncallback=1",

			// Flickr's "scope" is its perms parameter: read, write or delete.
			DefaultScope:     "read",
			OAuth1ScopeParam: "perms",

			UserID:      func(p []byte) string { return jsonString(p, "user", "id") },
			DisplayName: func(p []byte) string { return jsonString(p, "user", "username", "_content") },
		},
		{
			Name:      "github",
			Label:     "GitHub",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://github.com/login/oauth/authorize",
			TokenURL:   "https://github.com/login/oauth/access_token",
			ProfileURL: "https://api.github.com/user",

			UserID:      func(p []byte) string { return jsonString(p, "login") },
			DisplayName: func(p []byte) string { return firstJSONString(p, []string{"name"}, []string{"login"}) },
		},
		{
			Name:      "google",
			Label:     "Google",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:   "https://oauth2.googleapis.com/token",
			ProfileURL: "https://openidconnect.googleapis.com/v1/userinfo",

			DefaultScope:   "openid profile",
			ScopeSeparator: " ",

			UserID:      func(p []byte) string { return jsonString(p, "sub") },
			DisplayName: func(p []byte) string { return jsonString(p, "name") },
		},
		{
			Name:      "indieauth",
			Label:     "IndieAuth",
			Protocol:  ProtocolIndieAuth,
			AuthStyle: AuthStyleBearerHeader,
		},
		{
			Name:      "instagram",
			Label:     "Instagram",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleQueryParam,

			AuthURL:    "https://api.instagram.com/oauth/authorize",
			TokenURL:   "https://api.instagram.com/oauth/access_token",
			ProfileURL: "https://graph.instagram.com/me?fields=id,username",

			DefaultScope: "user_profile",

			UserID:      func(p []byte) string { return jsonString(p, "id") },
			DisplayName: func(p []byte) string { return jsonString(p, "username") },
		},
		{
			Name:      "linkedin",
			Label:     "LinkedIn",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://www.linkedin.com/oauth/v2/authorization",
			TokenURL:   "https://www.linkedin.com/oauth/v2/accessToken",
			ProfileURL: "https://api.linkedin.com/v2/me",

			DefaultScope:   "r_liteprofile",
			ScopeSeparator: " ",

			UserID:      func(p []byte) string { return jsonString(p, "id") },
			DisplayName: func(p []byte) string { return jsonString(p, "localizedFirstName") },
		},
		{
			Name:      "mastodon",
			Label:     "Mastodon",
			Protocol:  ProtocolMastodon,
			AuthStyle: AuthStyleBearerHeader,

			// Paths, joined to the user's instance URL.
			AuthURL:    "/oauth/authorize",
			TokenURL:   "/oauth/token",
			ProfileURL: "/api/v1/accounts/verify_credentials",

			DefaultScope:   "read:accounts",
			ScopeSeparator: " ",

			// The account URL (eg https://mastodon.social/users/ryan) is the
			// only id that's unique across instances.
			UserID:      func(p []byte) string { return jsonString(p, "url") },
			DisplayName: func(p []byte) string { return jsonString(p, "username") },
		},
		{
			Name:      "medium",
			Label:     "Medium",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://medium.com/m/oauth/authorize",
			TokenURL:   "https://api.medium.com/v1/tokens",
			ProfileURL: "https://api.medium.com/v1/me",

			DefaultScope: "basicProfile",

			UserID:      func(p []byte) string { return jsonString(p, "data", "id") },
			DisplayName: func(p []byte) string { return firstJSONString(p, []string{"data", "name"}, []string{"data", "username"}) },
		},
		{
			Name:      "meetup",
			Label:     "Meetup",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://secure.meetup.com/oauth2/authorize",
			TokenURL:   "https://secure.meetup.com/oauth2/access",
			ProfileURL: "https://api.meetup.com/members/self/",

			UserID:      func(p []byte) string { return jsonString(p, "id") },
			DisplayName: func(p []byte) string { return jsonString(p, "name") },
		},
		{
			Name:      "pixelfed",
			Label:     "Pixelfed",
			Protocol:  ProtocolMastodon,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "/oauth/authorize",
			TokenURL:   "/oauth/token",
			ProfileURL: "/api/v1/accounts/verify_credentials",

			DefaultScope:   "read",
			ScopeSeparator: " ",

			UserID:      func(p []byte) string { return jsonString(p, "url") },
			DisplayName: func(p []byte) string { return jsonString(p, "username") },
		},
		{
			Name:      "reddit",
			Label:     "Reddit",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://www.reddit.com/api/v1/authorize",
			TokenURL:   "https://www.reddit.com/api/v1/access_token",
			ProfileURL: "https://oauth.reddit.com/api/v1/me",

			DefaultScope:   "identity",
			ScopeSeparator: " ",
			ExtraAuthParams: map[string]string{
				"duration": "permanent",
			},
			BasicAuthToken: true,

			UserID:      func(p []byte) string { return jsonString(p, "name") },
			DisplayName: func(p []byte) string { return jsonString(p, "name") },
		},
		{
			Name:      "threads",
			Label:     "Threads",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleQueryParam,

			AuthURL:    "https://threads.net/oauth/authorize",
			TokenURL:   "https://graph.threads.net/oauth/access_token",
			ProfileURL: "https://graph.threads.net/v1.0/me?fields=id,username,name",

			DefaultScope: "threads_basic",

			UserID:      func(p []byte) string { return jsonString(p, "id") },
			DisplayName: func(p []byte) string { return firstJSONString(p, []string{"username"}, []string{"name"}) },
		},
		{
			Name:      "tumblr",
			Label:     "Tumblr",
			Protocol:  ProtocolOAuth1,
			AuthStyle: AuthStyleOAuth1,

			OAuth1: oauth1.Endpoints{
				RequestTokenURL: "https://www.tumblr.com/oauth/request_token",
				AuthorizeURL:    "https://www.tumblr.com/oauth/authorize",
				AccessTokenURL:  "https://www.tumblr.com/oauth/access_token",
			},
			ProfileURL: "https://api.tumblr.com/v2/user/info",

			UserID:      func(p []byte) string { return jsonString(p, "response", "user", "name") },
			DisplayName: func(p []byte) string { return jsonString(p, "response", "user", "name") },
		},
		{
			Name:      "twitter",
			Label:     "Twitter",
			Protocol:  ProtocolOAuth1,
			AuthStyle: AuthStyleOAuth1,

			OAuth1: oauth1.Endpoints{
				RequestTokenURL: "https://api.twitter.com/oauth/request_token",
				AuthorizeURL:    "https://api.twitter.com/oauth/authorize",
				AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
			},
			ProfileURL: "https://api.twitter.com/1.1/account/verify_credentials.json",

			UserID:      func(p []byte) string { return jsonString(p, "id_str") },
			DisplayName: func(p []byte) string { return jsonString(p, "screen_name") },
		},
		{
			Name:      "wordpress",
			Label:     "WordPress.com",
			Protocol:  ProtocolOAuth2,
			AuthStyle: AuthStyleBearerHeader,

			AuthURL:    "https://public-api.wordpress.com/oauth2/authorize",
			TokenURL:   "https://public-api.wordpress.com/oauth2/token",
			ProfileURL: "https://public-api.wordpress.com/rest/v1/me",

			UserID:      func(p []byte) string { return jsonString(p, "ID") },
			DisplayName: func(p []byte) string { return firstJSONString(p, []string{"display_name"}, []string{"username"}) },
		},
	}
}
