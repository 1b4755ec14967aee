package providers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

var (
	// ErrUnknownProvider means the route named a provider we don't serve.
	ErrUnknownProvider = errors.New("providers: unknown provider")

	// ErrMissingConfiguration means the provider exists but the deployment
	// has no app credentials for it. Checked before any network call.
	ErrMissingConfiguration = errors.New("providers: missing configuration")
)

// Registry maps provider names to configured clients. Descriptors are
// static; configs come from the deployment. Clients are built lazily and
// cached.
type Registry struct {
	mu      sync.RWMutex
	descs   map[string]Descriptor
	configs map[string]Config
	cache   map[string]*Client

	http *http.Client
}

// NewRegistry creates a registry over the given descriptors. httpClient
// may be nil. Descriptors must validate; this is a startup-time panic,
// not a runtime error.
func NewRegistry(descs []Descriptor, configs map[string]Config, httpClient *http.Client) *Registry {
	r := &Registry{
		descs:   make(map[string]Descriptor, len(descs)),
		configs: make(map[string]Config, len(configs)),
		cache:   make(map[string]*Client),
		http:    httpClient,
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			panic(err)
		}
		r.descs[d.Name] = d
	}
	for name, cfg := range configs {
		r.configs[name] = cfg
	}
	return r
}

// Get returns the configured client for a provider name. Providers whose
// protocol needs app credentials (OAuth2, OAuth1) fail with
// ErrMissingConfiguration when the deployment has none; Mastodon-style
// providers register their app dynamically and IndieAuth has no app, so
// those never need config.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	if c, ok := r.cache[name]; ok {
		r.mu.RUnlock()
		return c, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[name]; ok {
		return c, nil
	}

	desc, ok := r.descs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	cfg := r.configs[name]
	switch desc.Protocol {
	case ProtocolOAuth2, ProtocolOAuth1:
		if cfg.ClientID == "" || cfg.ClientSecret == "" {
			return nil, fmt.Errorf("%w: %s needs a client id and secret", ErrMissingConfiguration, name)
		}
	}

	c := NewClient(desc, cfg, r.http)
	r.cache[name] = c
	return c, nil
}

// Available returns all provider names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.descs))
	for name := range r.descs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptor looks up a descriptor without building a client.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[name]
	return d, ok
}
