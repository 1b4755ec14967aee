package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snarfed/oauth-dropins/internal/classify"
	"github.com/snarfed/oauth-dropins/internal/flow"
	"github.com/snarfed/oauth-dropins/internal/observability/logger"
	"github.com/snarfed/oauth-dropins/internal/providers"
)

// Controller serves the two-endpoint handshake contract plus the
// introspection endpoints.
type Controller struct {
	flow       *flow.Service
	registry   *providers.Registry
	classifier *classify.Classifier
}

// NewController creates a Controller.
func NewController(svc *flow.Service, registry *providers.Registry, classifier *classify.Classifier) *Controller {
	if classifier == nil {
		classifier = classify.New()
	}
	return &Controller{flow: svc, registry: registry, classifier: classifier}
}

// continuation is what we thread through the handshake for the caller:
// where to send the user afterwards and their opaque state.
type continuation struct {
	To    string `json:"to,omitempty"`
	State string `json:"state,omitempty"`
}

func (c continuation) encode() string {
	if c.To == "" && c.State == "" {
		return ""
	}
	b, _ := json.Marshal(c)
	return string(b)
}

func decodeContinuation(s string) continuation {
	var c continuation
	if s != "" {
		_ = json.Unmarshal([]byte(s), &c)
	}
	return c
}

// Start handles POST/GET /{provider}/start: kick off a handshake and
// redirect the user to the provider's consent screen.
//
// Parameters: state (opaque), redirect_uri (continuation target), scope
// (repeatable), instance (mastodon/pixelfed), me (indieauth).
func (c *Controller) Start(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if err := r.ParseForm(); err != nil {
		WriteError(w, ErrBadRequest.WithCause(err))
		return
	}

	var scopes []string
	for _, s := range r.Form["scope"] {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}

	cont := continuation{
		To:    r.Form.Get("redirect_uri"),
		State: r.Form.Get("state"),
	}

	redirect, err := c.flow.Start(r.Context(), flow.StartRequest{
		Provider: provider,
		State:    cont.encode(),
		Scopes:   scopes,
		Instance: r.Form.Get("instance"),
		Me:       r.Form.Get("me"),
	})
	if err != nil {
		c.fail(w, r, provider, "", err)
		return
	}

	handshakeStarts.WithLabelValues(provider).Inc()
	noStore(w)
	http.Redirect(w, r, redirect, http.StatusFound)
}

// Callback handles GET /{provider}/oauth_callback: finish the handshake
// and hand the outcome back to the caller, either as a redirect to their
// continuation URL or as JSON when they didn't give one.
func (c *Controller) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	res, err := c.flow.Callback(r.Context(), flow.CallbackRequest{
		Provider: provider,
		Params:   r.URL.Query(),
	})
	if err != nil {
		c.fail(w, r, provider, outcomeError, err)
		return
	}

	cont := decodeContinuation(res.State)
	params := url.Values{}
	if cont.State != "" {
		params.Set("state", cont.State)
	}

	if res.Declined {
		handshakeOutcomes.WithLabelValues(provider, outcomeDeclined).Inc()
		params.Set("declined", "true")
	} else {
		handshakeOutcomes.WithLabelValues(provider, outcomeCompleted).Inc()
		params.Set("auth_entity", res.Credential.ID)
		if tok := res.Credential.Token; tok.IsPair() {
			params.Set("access_token_key", tok.Key)
			params.Set("access_token_secret", tok.Secret)
		} else if tok.Access != "" {
			params.Set("access_token", tok.Access)
		}
	}

	noStore(w)
	if cont.To == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		out := map[string]any{"declined": res.Declined}
		for k := range params {
			out[k] = params.Get(k)
		}
		_ = json.NewEncoder(w).Encode(out)
		return
	}

	target, err := url.Parse(cont.To)
	if err != nil {
		WriteError(w, ErrBadRequest.WithCause(err))
		return
	}
	q := target.Query()
	for k := range params {
		q.Set(k, params.Get(k))
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, provider, outcome string, err error) {
	if outcome != "" {
		handshakeOutcomes.WithLabelValues(provider, outcome).Inc()
	}
	appErr := FromError(err, c.classifier)
	if appErr.HTTPStatus >= 500 {
		logger.From(r.Context()).Error("handshake failed",
			logger.Provider(provider), logger.Err(err))
	} else {
		logger.From(r.Context()).Warn("handshake rejected",
			logger.Provider(provider), logger.Err(err))
	}
	WriteError(w, appErr)
}

// providerInfo is one entry of GET /providers.
type providerInfo struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Protocol string `json:"protocol"`
}

// Providers handles GET /providers.
func (c *Controller) Providers(w http.ResponseWriter, r *http.Request) {
	var out []providerInfo
	for _, name := range c.registry.Available() {
		desc, ok := c.registry.Descriptor(name)
		if !ok {
			continue
		}
		out = append(out, providerInfo{
			Name:     desc.Name,
			Label:    desc.Label,
			Protocol: string(desc.Protocol),
		})
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}
