package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/snarfed/oauth-dropins/internal/auth"
	"github.com/snarfed/oauth-dropins/internal/exchange"
	"github.com/snarfed/oauth-dropins/internal/oauth1"
	"github.com/snarfed/oauth-dropins/internal/observability/logger"
	"github.com/snarfed/oauth-dropins/internal/providers"
)

// CallbackRequest is the provider's redirect back to us.
type CallbackRequest struct {
	Provider string

	// Params is the full callback query string.
	Params url.Values
}

// Result is a finished handshake. Declined handshakes have Declined set
// and no Credential; they are an outcome, not an error.
type Result struct {
	Credential *auth.Record
	State      string
	Declined   bool
}

// Callback verifies the provider's answer, completes the token exchange
// and persists exactly one credential. It never stores anything on the
// decline or error paths.
func (s *Service) Callback(ctx context.Context, req CallbackRequest) (*Result, error) {
	client, err := s.registry.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	log := logger.From(ctx).With(logger.Provider(req.Provider))

	if res, handled, err := s.handleDecline(ctx, client, req); handled {
		if err == nil && res != nil {
			log.Info("user declined", logger.Op("callback"))
		}
		return res, err
	}

	var res *Result
	switch client.Desc.Protocol {
	case providers.ProtocolOAuth1:
		res, err = s.callbackOAuth1(ctx, client, req)
	case providers.ProtocolOAuth2:
		res, err = s.callbackOAuth2(ctx, client, req)
	case providers.ProtocolMastodon:
		res, err = s.callbackMastodon(ctx, client, req)
	case providers.ProtocolIndieAuth:
		res, err = s.callbackIndieAuth(ctx, client, req)
	default:
		return nil, fmt.Errorf("flow: unhandled protocol %q", client.Desc.Protocol)
	}
	if err != nil {
		return nil, err
	}

	if err := s.credentials.Put(ctx, res.Credential); err != nil {
		return nil, err
	}
	log.Info("handshake complete", logger.Op("callback"),
		logger.Key(res.Credential.ID))
	return res, nil
}

// handleDecline recognizes the provider telling us the user said no:
// error=access_denied and friends for the OAuth2 family, denied=<token>
// for OAuth1. The decline path peeks instead of consuming so reloading
// the callback URL gives the same answer, and an expired exchange record
// still counts as a decline.
func (s *Service) handleDecline(ctx context.Context, client *providers.Client, req CallbackRequest) (*Result, bool, error) {
	if denied := req.Params.Get("denied"); denied != "" && client.Desc.Protocol == providers.ProtocolOAuth1 {
		rec, err := s.exchange.Peek(ctx, denied)
		if errors.Is(err, exchange.ErrInvalidExchange) {
			return &Result{Declined: true}, true, nil
		}
		if err != nil {
			return nil, true, fmt.Errorf("%w: %v", ErrBadCallback, err)
		}
		return &Result{Declined: true, State: rec.State}, true, nil
	}

	errParam := req.Params.Get("error")
	if errParam == "" {
		return nil, false, nil
	}

	switch errParam {
	// user_cancelled_* are Mastodon's spellings of access_denied.
	case "access_denied", "user_denied", "user_cancelled_login", "user_cancelled_authorize":
		fields, err := s.states.Decode(req.Params.Get("state"))
		if err != nil {
			return nil, true, fmt.Errorf("%w: %v", ErrBadCallback, err)
		}
		rec, err := s.exchange.Peek(ctx, fields["k"])
		if err == nil {
			return &Result{Declined: true, State: rec.State}, true, nil
		}
		if !errors.Is(err, exchange.ErrInvalidExchange) {
			return nil, true, fmt.Errorf("%w: %v", ErrBadCallback, err)
		}
		// Record gone; the state envelope still carries the caller state.
		return &Result{Declined: true, State: fields["state"]}, true, nil
	}

	desc := req.Params.Get("error_description")
	return nil, true, fmt.Errorf("%w: %s: %s", ErrProviderDenied, errParam, desc)
}

// consumeFromState decodes the state parameter and atomically consumes
// the exchange record it points at.
func (s *Service) consumeFromState(ctx context.Context, stateParam string) (*exchange.Record, error) {
	key, err := s.exchangeKey(stateParam)
	if err != nil {
		return nil, err
	}
	rec, err := s.exchange.Consume(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCallback, err)
	}
	return rec, nil
}

func (s *Service) exchangeKey(stateParam string) (string, error) {
	fields, err := s.states.Decode(stateParam)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadCallback, err)
	}
	key := fields["k"]
	if key == "" {
		return "", fmt.Errorf("%w: state carries no key", ErrBadCallback)
	}
	return key, nil
}

func (s *Service) callbackOAuth2(ctx context.Context, client *providers.Client, req CallbackRequest) (*Result, error) {
	code := req.Params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrBadCallback)
	}
	rec, err := s.consumeFromState(ctx, req.Params.Get("state"))
	if err != nil {
		return nil, err
	}

	tok, err := client.Exchange(ctx, "", code, s.CallbackURL(req.Provider), rec.Secret)
	if err != nil {
		return nil, err
	}
	return s.finishOAuth2(ctx, client, client, rec, tok, "")
}

func (s *Service) callbackMastodon(ctx context.Context, client *providers.Client, req CallbackRequest) (*Result, error) {
	code := req.Params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrBadCallback)
	}
	rec, err := s.consumeFromState(ctx, req.Params.Get("state"))
	if err != nil {
		return nil, err
	}

	instance := rec.Extra["instance"]
	if instance == "" {
		return nil, fmt.Errorf("%w: record carries no instance", ErrBadCallback)
	}
	appClient := providers.NewClient(client.Desc, providers.Config{
		ClientID:     rec.Extra["client_id"],
		ClientSecret: rec.Extra["client_secret"],
	}, s.http)

	tok, err := appClient.Exchange(ctx, instance+client.Desc.TokenURL, code,
		s.CallbackURL(req.Provider), "")
	if err != nil {
		return nil, err
	}
	return s.finishOAuth2(ctx, client, appClient, rec, tok, instance+client.Desc.ProfileURL)
}

// finishOAuth2 fetches the profile and builds the credential. profileURL
// may be empty to use the descriptor's.
func (s *Service) finishOAuth2(ctx context.Context, client, fetcher *providers.Client, rec *exchange.Record, tok *providers.Token, profileURL string) (*Result, error) {
	desc := client.Desc

	var profile []byte
	var userID, displayName string
	if desc.ProfileURL != "" {
		var err error
		profile, err = fetcher.FetchProfile(ctx, profileURL, *tok)
		if err != nil {
			return nil, err
		}
		userID = desc.UserID(profile)
		if desc.DisplayName != nil {
			displayName = desc.DisplayName(profile)
		}
	}
	if userID == "" {
		return nil, fmt.Errorf("flow: %s profile has no user id", desc.Name)
	}

	return &Result{
		Credential: auth.NewRecord(desc.Name, userID, *tok, profile, displayName),
		State:      rec.State,
	}, nil
}

func (s *Service) callbackOAuth1(ctx context.Context, client *providers.Client, req CallbackRequest) (*Result, error) {
	tokenKey := req.Params.Get("oauth_token")
	verifier := req.Params.Get("oauth_verifier")
	if tokenKey == "" || verifier == "" {
		return nil, fmt.Errorf("%w: missing oauth_token or oauth_verifier", ErrBadCallback)
	}

	rec, err := s.exchange.Consume(ctx, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCallback, err)
	}

	oc := client.OAuth1Client(s.CallbackURL(req.Provider))
	access, err := oc.AccessToken(ctx, &oauth1.TokenPair{Key: tokenKey, Secret: rec.Secret}, verifier)
	if err != nil {
		return nil, err
	}

	tok := providers.Token{Key: access.Key, Secret: access.Secret}
	profile, err := client.FetchProfile(ctx, "", tok)
	if err != nil {
		return nil, err
	}
	userID := client.Desc.UserID(profile)
	if userID == "" {
		return nil, fmt.Errorf("flow: %s profile has no user id", client.Desc.Name)
	}
	var displayName string
	if client.Desc.DisplayName != nil {
		displayName = client.Desc.DisplayName(profile)
	}

	return &Result{
		Credential: auth.NewRecord(client.Desc.Name, userID, tok, profile, displayName),
		State:      rec.State,
	}, nil
}

func (s *Service) callbackIndieAuth(ctx context.Context, client *providers.Client, req CallbackRequest) (*Result, error) {
	code := req.Params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrBadCallback)
	}
	rec, err := s.consumeFromState(ctx, req.Params.Get("state"))
	if err != nil {
		return nil, err
	}

	me := rec.Extra["me"]
	endpoint := rec.Extra["token_endpoint"]
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", s.indieAuthClientID(client))
	form.Set("code", code)
	form.Set("redirect_uri", s.CallbackURL(req.Provider))
	form.Set("code_verifier", rec.Secret)
	if endpoint == "" {
		// No token endpoint: verify the code against the authorization
		// endpoint instead. No access token comes back.
		endpoint = rec.Extra["auth_endpoint"]
		form.Set("me", me)
	}
	if endpoint == "" {
		return nil, fmt.Errorf("%w: record carries no endpoint", ErrBadCallback)
	}

	verifiedMe, raw, err := s.discoverer.Redeem(ctx, endpoint, form)
	if err != nil {
		return nil, err
	}

	var tok providers.Token
	if t, err := parseIndieAuthToken(raw); err == nil {
		tok = t
	}

	profile := []byte(fmt.Sprintf(`{"me": %q}`, verifiedMe))
	return &Result{
		Credential: auth.NewRecord(client.Desc.Name, verifiedMe, tok, profile, displayDomain(verifiedMe)),
		State:      rec.State,
	}, nil
}

func parseIndieAuthToken(raw []byte) (providers.Token, error) {
	var tok providers.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return providers.Token{}, err
	}
	return tok, nil
}

func displayDomain(me string) string {
	u, err := url.Parse(me)
	if err != nil || u.Host == "" {
		return me
	}
	return u.Host
}
