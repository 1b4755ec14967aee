// Package indieauth implements IndieAuth endpoint discovery and code
// verification. There is no provider app: the user's own site declares its
// authorization and token endpoints via Link headers or <link> tags, and
// authenticating means proving control of the "me" URL.
package indieauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/snarfed/oauth-dropins/internal/classify"
)

// FallbackAuthorizationEndpoint serves sites that declare no
// authorization endpoint of their own.
const FallbackAuthorizationEndpoint = "https://indieauth.com/auth"

// Endpoints is what discovery finds at a user's site.
type Endpoints struct {
	// Me is the canonical user URL after redirects.
	Me string

	Authorization string

	// Token is empty when the site declares no token endpoint; the code
	// is then verified against the authorization endpoint instead.
	Token string
}

// Discoverer fetches user sites and extracts their IndieAuth endpoints.
type Discoverer struct {
	http *http.Client
}

// NewDiscoverer creates a Discoverer. httpClient may be nil.
func NewDiscoverer(httpClient *http.Client) *Discoverer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Discoverer{http: httpClient}
}

// NormalizeMe turns user input into a fetchable URL.
func NormalizeMe(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("indieauth: missing me URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("indieauth: %q isn't a valid URL", raw)
	}
	return u.String(), nil
}

// Discover fetches me and finds its endpoints. Link headers win over HTML
// <link> tags, per the IndieAuth discovery order. Relative endpoint URLs
// resolve against the final fetched URL.
func (d *Discoverer) Discover(ctx context.Context, me string) (*Endpoints, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, me, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indieauth: fetch %s: %w", me, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: me}
	}

	base := resp.Request.URL

	eps := &Endpoints{Me: base.String()}
	eps.Authorization = d.findEndpoint(resp, body, base, "authorization_endpoint")
	eps.Token = d.findEndpoint(resp, body, base, "token_endpoint")
	if eps.Authorization == "" {
		eps.Authorization = FallbackAuthorizationEndpoint
	}
	return eps, nil
}

func (d *Discoverer) findEndpoint(resp *http.Response, body []byte, base *url.URL, rel string) string {
	for _, header := range resp.Header.Values("Link") {
		if ep := linkHeaderRel(header, rel); ep != "" {
			return resolve(base, ep)
		}
	}
	if ep := htmlLinkRel(body, rel); ep != "" {
		return resolve(base, ep)
	}
	return ""
}

func resolve(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// linkHeaderRel extracts the target of a Link header entry whose rel list
// contains rel. Minimal RFC 8288 parsing, enough for real sites.
func linkHeaderRel(header, rel string) string {
	for _, entry := range strings.Split(header, ",") {
		parts := strings.Split(entry, ";")
		target := strings.TrimSpace(parts[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range parts[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(k), "rel") {
				continue
			}
			v = strings.Trim(strings.TrimSpace(v), `"`)
			for _, r := range strings.Fields(v) {
				if r == rel {
					return strings.Trim(target, "<>")
				}
			}
		}
	}
	return ""
}

// htmlLinkRel finds <link rel="..." href="..."> in a page.
func htmlLinkRel(body []byte, rel string) string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	var found string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "link" {
			var rels, href string
			for _, a := range n.Attr {
				switch a.Key {
				case "rel":
					rels = a.Val
				case "href":
					href = a.Val
				}
			}
			for _, r := range strings.Fields(rels) {
				if r == rel && href != "" {
					found = href
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found
}

// Redeem POSTs the authorization code to endpoint and returns the
// verified me URL plus the raw response. The response may be JSON or
// form-encoded; both shapes exist in the wild.
func (d *Discoverer) Redeem(ctx context.Context, endpoint string, form url.Values) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return "", nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: endpoint}
	}

	me := sniffMe(body)
	if me == "" {
		return "", nil, fmt.Errorf("indieauth: endpoint %s verified no me URL", endpoint)
	}
	return me, body, nil
}

func sniffMe(body []byte) string {
	var parsed struct {
		Me string `json:"me"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Me != "" {
		return parsed.Me
	}
	if vals, err := url.ParseQuery(strings.TrimSpace(string(body))); err == nil {
		return vals.Get("me")
	}
	return ""
}
