// Package flow orchestrates the two halves of every handshake: Start
// builds the provider redirect and parks the correlation data, Callback
// verifies the provider's answer and persists exactly one credential.
//
// All provider-specific variation lives in the provider table and the
// protocol subpackages; this package only branches on protocol.
package flow

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/snarfed/oauth-dropins/internal/auth"
	"github.com/snarfed/oauth-dropins/internal/exchange"
	"github.com/snarfed/oauth-dropins/internal/observability/logger"
	"github.com/snarfed/oauth-dropins/internal/pkce"
	"github.com/snarfed/oauth-dropins/internal/providers"
	"github.com/snarfed/oauth-dropins/internal/providers/indieauth"
	"github.com/snarfed/oauth-dropins/internal/providers/mastodon"
	"github.com/snarfed/oauth-dropins/internal/state"
)

// ErrBadCallback indicates a callback that doesn't correspond to any
// in-flight handshake: bad state, expired or replayed exchange record.
var ErrBadCallback = errors.New("flow: invalid callback")

// ErrProviderDenied indicates the provider reported a handshake error
// other than the user declining.
var ErrProviderDenied = errors.New("flow: provider reported an error")

// Deps wires the flow service.
type Deps struct {
	Registry    *providers.Registry
	Exchange    exchange.Store
	States      state.Codec
	Credentials auth.Store
	Apps        *mastodon.AppStore
	Discoverer  *indieauth.Discoverer

	// BaseURL is the public base URL of this deployment, no trailing
	// slash, eg https://oauth-dropins.appspot.com.
	BaseURL string

	// AppName is shown on Mastodon consent screens.
	AppName string

	HTTP *http.Client
}

// Service implements the start and callback halves.
type Service struct {
	registry    *providers.Registry
	exchange    exchange.Store
	states      state.Codec
	credentials auth.Store
	discoverer  *indieauth.Discoverer

	// fediverse services per provider name; the version gate differs.
	fediverse map[string]*mastodon.Service

	baseURL string
	appName string
	http    *http.Client
}

// New creates a Service from its dependencies.
func New(deps Deps) (*Service, error) {
	if deps.Registry == nil || deps.Exchange == nil || deps.States == nil || deps.Credentials == nil {
		return nil, errors.New("flow: missing dependencies")
	}
	if deps.BaseURL == "" {
		return nil, errors.New("flow: missing base URL")
	}
	httpClient := deps.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	disc := deps.Discoverer
	if disc == nil {
		disc = indieauth.NewDiscoverer(httpClient)
	}
	appName := deps.AppName
	if appName == "" {
		appName = "oauth-dropins"
	}

	s := &Service{
		registry:    deps.Registry,
		exchange:    deps.Exchange,
		states:      deps.States,
		credentials: deps.Credentials,
		discoverer:  disc,
		fediverse:   map[string]*mastodon.Service{},
		baseURL:     deps.BaseURL,
		appName:     appName,
		http:        httpClient,
	}
	if deps.Apps != nil {
		s.fediverse["mastodon"] = mastodon.NewService(deps.Apps, httpClient, mastodon.VersionExcludes("Pixelfed"))
		s.fediverse["pixelfed"] = mastodon.NewService(deps.Apps, httpClient, mastodon.VersionRequires("Pixelfed"))
	}
	return s, nil
}

// CallbackURL is where the provider sends the user back for one provider.
func (s *Service) CallbackURL(provider string) string {
	return s.baseURL + "/" + provider + "/oauth_callback"
}

// StartRequest is one start invocation.
type StartRequest struct {
	Provider string

	// State is the caller's continuation state, echoed back after the
	// callback. Opaque to us.
	State string

	// Scopes are extra scopes merged into the provider defaults.
	Scopes []string

	// Instance is the Mastodon/Pixelfed instance, required for those.
	Instance string

	// Me is the user's site URL, required for IndieAuth.
	Me string
}

// Start validates configuration, parks the handshake's correlation data
// and returns the provider URL to redirect the user to. Configuration
// errors surface before any network call is made.
func (s *Service) Start(ctx context.Context, req StartRequest) (string, error) {
	client, err := s.registry.Get(req.Provider)
	if err != nil {
		return "", err
	}

	log := logger.From(ctx).With(logger.Provider(req.Provider))
	log.Info("starting handshake", logger.Op("start"))

	switch client.Desc.Protocol {
	case providers.ProtocolOAuth2:
		return s.startOAuth2(ctx, client, req)
	case providers.ProtocolOAuth1:
		return s.startOAuth1(ctx, client, req)
	case providers.ProtocolMastodon:
		return s.startMastodon(ctx, client, req)
	case providers.ProtocolIndieAuth:
		return s.startIndieAuth(ctx, client, req)
	default:
		return "", fmt.Errorf("flow: unhandled protocol %q", client.Desc.Protocol)
	}
}

func (s *Service) startOAuth2(ctx context.Context, client *providers.Client, req StartRequest) (string, error) {
	rec := exchange.Record{State: req.State}
	extra := map[string]string{}

	if client.Desc.UsePKCE {
		verifier, err := pkce.NewVerifier()
		if err != nil {
			return "", err
		}
		rec.Secret = verifier
		extra["code_challenge"] = pkce.Challenge(verifier)
		extra["code_challenge_method"] = "S256"
	}

	key, err := s.exchange.Put(ctx, "", rec)
	if err != nil {
		return "", err
	}
	stateParam, err := s.encodeState(key, req.State)
	if err != nil {
		return "", err
	}

	scope := client.MergeScopes(req.Scopes)
	return client.AuthorizationURL("", s.CallbackURL(req.Provider), scope, stateParam, extra)
}

func (s *Service) startOAuth1(ctx context.Context, client *providers.Client, req StartRequest) (string, error) {
	oc := client.OAuth1Client(s.CallbackURL(req.Provider))
	reqToken, err := oc.RequestToken(ctx)
	if err != nil {
		return "", err
	}

	// The provider echoes the request token key back as oauth_token, so
	// it doubles as the exchange key.
	if _, err := s.exchange.Put(ctx, reqToken.Key, exchange.Record{
		Secret: reqToken.Secret,
		State:  req.State,
	}); err != nil {
		return "", err
	}

	authURL := oc.AuthorizeURL(reqToken.Key)
	if p := client.Desc.OAuth1ScopeParam; p != "" {
		if scope := client.MergeScopes(req.Scopes); scope != "" {
			u, err := url.Parse(authURL)
			if err != nil {
				return "", err
			}
			q := u.Query()
			q.Set(p, scope)
			u.RawQuery = q.Encode()
			authURL = u.String()
		}
	}
	return authURL, nil
}

func (s *Service) startMastodon(ctx context.Context, client *providers.Client, req StartRequest) (string, error) {
	svc, ok := s.fediverse[client.Desc.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s has no app store", providers.ErrMissingConfiguration, client.Desc.Name)
	}

	instance, err := mastodon.NormalizeInstance(req.Instance)
	if err != nil {
		return "", err
	}
	instance, err = svc.VerifyInstance(ctx, instance)
	if err != nil {
		return "", err
	}

	app, err := svc.EnsureApp(ctx, instance, s.appName, s.baseURL+"/",
		[]string{s.CallbackURL(client.Desc.Name)})
	if err != nil {
		return "", err
	}

	key, err := s.exchange.Put(ctx, "", exchange.Record{
		State: req.State,
		Extra: map[string]string{
			"instance":      instance,
			"client_id":     app.ClientID,
			"client_secret": app.ClientSecret,
		},
	})
	if err != nil {
		return "", err
	}
	stateParam, err := s.encodeState(key, req.State)
	if err != nil {
		return "", err
	}

	appClient := providers.NewClient(client.Desc, providers.Config{
		ClientID: app.ClientID, ClientSecret: app.ClientSecret,
	}, s.http)
	scope := appClient.MergeScopes(req.Scopes)
	return appClient.AuthorizationURL(instance+client.Desc.AuthURL,
		s.CallbackURL(client.Desc.Name), scope, stateParam, nil)
}

func (s *Service) startIndieAuth(ctx context.Context, client *providers.Client, req StartRequest) (string, error) {
	me, err := indieauth.NormalizeMe(req.Me)
	if err != nil {
		return "", err
	}
	eps, err := s.discoverer.Discover(ctx, me)
	if err != nil {
		return "", err
	}

	verifier, err := pkce.NewVerifier()
	if err != nil {
		return "", err
	}

	key, err := s.exchange.Put(ctx, "", exchange.Record{
		Secret: verifier,
		State:  req.State,
		Extra: map[string]string{
			"me":             eps.Me,
			"auth_endpoint":  eps.Authorization,
			"token_endpoint": eps.Token,
		},
	})
	if err != nil {
		return "", err
	}
	stateParam, err := s.encodeState(key, req.State)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(eps.Authorization)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("me", eps.Me)
	q.Set("client_id", s.indieAuthClientID(client))
	q.Set("redirect_uri", s.CallbackURL(client.Desc.Name))
	q.Set("state", stateParam)
	q.Set("response_type", "code")
	q.Set("scope", "profile")
	q.Set("code_challenge", pkce.Challenge(verifier))
	q.Set("code_challenge_method", "S256")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// encodeState builds the provider-bound state parameter. Besides the
// exchange key it carries the caller's state, so declines can be answered
// from the state alone after the exchange record expires.
func (s *Service) encodeState(key, callerState string) (string, error) {
	env := map[string]string{"k": key}
	if callerState != "" {
		env["state"] = callerState
	}
	return s.states.Encode(env)
}

// indieAuthClientID is the URL identifying this app to IndieAuth
// endpoints. Deployments may pin one; the base URL works otherwise.
func (s *Service) indieAuthClientID(client *providers.Client) string {
	if client.Config.ClientID != "" {
		return client.Config.ClientID
	}
	return s.baseURL + "/"
}
