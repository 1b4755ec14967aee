// Package mastodon implements the Mastodon-style handshake preamble:
// verify the user-supplied instance actually speaks the Mastodon API, then
// register (or reuse) an OAuth app on that instance. Pixelfed speaks the
// same API and shares this code, differing only in the version gate.
package mastodon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/snarfed/oauth-dropins/internal/cache"
	"github.com/snarfed/oauth-dropins/internal/classify"
	"github.com/snarfed/oauth-dropins/internal/observability/logger"
)

// AllScopes is what we register apps with. Individual logins then request
// subsets; instances only honor scopes the app was registered for.
var AllScopes = []string{
	"read",
	"write",
	"push",
}

// App is an OAuth2 app registered on one instance.
type App struct {
	Instance     string    `json:"instance"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppStore persists registered apps, keyed by (instance, app name, app
// URL). Apps older than maxAge are treated as missing so they get
// re-registered; instances garbage collect unused apps.
type AppStore struct {
	cache  cache.Client
	maxAge time.Duration
}

// NewAppStore creates an AppStore. maxAge <= 0 means apps never expire.
func NewAppStore(c cache.Client, maxAge time.Duration) *AppStore {
	return &AppStore{cache: c, maxAge: maxAge}
}

func appKey(instance, name, appURL string) string {
	sum := sha256.Sum256([]byte(instance + "\x00" + name + "\x00" + appURL))
	return "mastodon:app:" + hex.EncodeToString(sum[:16])
}

// Get returns the stored app or cache.ErrNotFound.
func (s *AppStore) Get(ctx context.Context, instance, name, appURL string) (*App, error) {
	raw, err := s.cache.Get(ctx, appKey(instance, name, appURL))
	if err != nil {
		return nil, err
	}
	var app App
	if err := json.Unmarshal([]byte(raw), &app); err != nil {
		return nil, fmt.Errorf("mastodon: corrupt stored app: %w", err)
	}
	if s.maxAge > 0 && time.Since(app.CreatedAt) > s.maxAge {
		return nil, cache.ErrNotFound
	}
	return &app, nil
}

// Put stores an app with no TTL; expiry is policy, applied on read.
func (s *AppStore) Put(ctx context.Context, app *App) error {
	raw, err := json.Marshal(app)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, appKey(app.Instance, app.Name, app.URL), string(raw), 0)
}

// Service verifies instances and registers apps on them.
type Service struct {
	apps      *AppStore
	http      *http.Client
	versionOK func(version string) bool
}

// NewService creates a Service. httpClient may be nil; versionOK gates
// which software the instance may report, nil accepts anything.
func NewService(apps *AppStore, httpClient *http.Client, versionOK func(string) bool) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Service{apps: apps, http: httpClient, versionOK: versionOK}
}

// VersionExcludes gates out instances whose reported version contains
// marker. Mastodon logins use VersionExcludes("Pixelfed") so Pixelfed
// users get pointed at the right button.
func VersionExcludes(marker string) func(string) bool {
	return func(version string) bool { return !strings.Contains(version, marker) }
}

// VersionRequires is the inverse gate, for the Pixelfed provider itself.
func VersionRequires(marker string) func(string) bool {
	return func(version string) bool { return strings.Contains(version, marker) }
}

// NormalizeInstance turns user input into an instance base URL. Accepts a
// full URL, a bare hostname, or a fediverse address like
// @user@mastodon.social.
func NormalizeInstance(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("mastodon: missing instance")
	}

	if parts := strings.Split(raw, "@"); len(parts) == 3 && parts[0] == "" {
		raw = parts[2]
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("mastodon: %q doesn't look like an instance", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// instanceInfo is the slice of /api/v1/instance we care about.
type instanceInfo struct {
	URI     string `json:"uri"`
	Title   string `json:"title"`
	Version string `json:"version"`
}

// VerifyInstance checks that instance answers the Mastodon instance API
// with an acceptable version, following redirects. Returns the canonical
// base URL, which may differ from the input when the instance redirects.
func (s *Service) VerifyInstance(ctx context.Context, instance string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instance+"/api/v1/instance", nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("mastodon: couldn't connect to %s: %w", instance, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return "", &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: instance}
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return "", fmt.Errorf("mastodon: %s doesn't look like an instance", instance)
	}

	var info instanceInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("mastodon: %s doesn't look like an instance", instance)
	}
	if s.versionOK != nil && !s.versionOK(info.Version) {
		return "", fmt.Errorf("mastodon: %s runs unsupported software (%s)", instance, info.Version)
	}

	final := resp.Request.URL
	return final.Scheme + "://" + final.Host, nil
}

// EnsureApp returns the app registered on instance for (name, appURL),
// registering one when none is stored or the stored one has expired.
func (s *Service) EnsureApp(ctx context.Context, instance, name, appURL string, redirectURIs []string) (*App, error) {
	app, err := s.apps.Get(ctx, instance, name, appURL)
	if err == nil {
		return app, nil
	}
	if !cache.IsNotFound(err) {
		return nil, err
	}

	app, err = s.register(ctx, instance, name, appURL, redirectURIs)
	if err != nil {
		return nil, err
	}
	if err := s.apps.Put(ctx, app); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("registered app on instance",
		logger.Component("mastodon"),
		logger.String("instance", instance),
		logger.String("client_id", app.ClientID))
	return app, nil
}

// register POSTs to /api/v1/apps. Doorkeeper accepts multiple redirect
// URIs separated by newlines.
func (s *Service) register(ctx context.Context, instance, name, appURL string, redirectURIs []string) (*App, error) {
	form := url.Values{}
	form.Set("client_name", name)
	form.Set("redirect_uris", strings.Join(redirectURIs, "\n"))
	form.Set("website", appURL)
	form.Set("scopes", strings.Join(AllScopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, instance+"/api/v1/apps", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, &classify.HTTPError{StatusCode: resp.StatusCode, Body: string(body), URL: instance}
	}

	var reg struct {
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &reg); err != nil {
		return nil, fmt.Errorf("mastodon: parse app registration: %w", err)
	}
	if reg.ClientID == "" || reg.ClientSecret == "" {
		return nil, fmt.Errorf("mastodon: %s returned no app credentials", instance)
	}

	return &App{
		Instance:     instance,
		Name:         name,
		URL:          appURL,
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
