// Package exchange stores the short-lived server-side records that link a
// start redirect to its later callback: CSRF tokens, OAuth1 request tokens
// and PKCE verifiers.
//
// Records live in the shared cache so the callback can land on a different
// instance than the one that issued the redirect. Consume is atomic
// read-and-invalidate: replaying a callback URL, or racing it from two
// browser tabs, fails for every request but the first.
package exchange

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/snarfed/oauth-dropins/internal/cache"
)

// ErrInvalidExchange indicates a missing, expired or already-consumed
// exchange record. Surfaced as a client-facing bad request, never a server
// fault: it usually means an expired, replayed or forged callback.
var ErrInvalidExchange = errors.New("exchange: no record for key")

// Record is one in-flight handshake's correlation data.
type Record struct {
	// Key is the lookup key: store-generated CSRF token, or the
	// provider-issued request token key for OAuth1.
	Key string `json:"-"`

	// Secret is the protocol secret: OAuth1 token secret, PKCE verifier,
	// or empty for a bare CSRF token.
	Secret string `json:"secret,omitempty"`

	// State is the caller-supplied continuation state string.
	State string `json:"state,omitempty"`

	// Extra carries protocol-specific correlation data, eg the Mastodon
	// instance and app credentials, or discovered IndieAuth endpoints.
	Extra map[string]string `json:"extra,omitempty"`
}

// Store persists exchange records between start and callback.
type Store interface {
	// Put creates one record. When key is empty a cryptographically random
	// key is generated. Returns the key under which the record was stored.
	Put(ctx context.Context, key string, rec Record) (string, error)

	// Consume returns the record for key and invalidates it. The second
	// Consume for the same key fails with ErrInvalidExchange.
	Consume(ctx context.Context, key string) (*Record, error)

	// Peek returns the record without consuming it. Used by the decline
	// path, which must stay idempotent.
	Peek(ctx context.Context, key string) (*Record, error)
}

const keyPrefix = "exchange:"

// cacheStore implements Store on cache.Client.
type cacheStore struct {
	cache cache.Client
	ttl   time.Duration
}

// NewStore creates a Store backed by the given cache. ttl bounds how long a
// handshake may stay in flight; 0 means 15 minutes.
func NewStore(c cache.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &cacheStore{cache: c, ttl: ttl}
}

func (s *cacheStore) Put(ctx context.Context, key string, rec Record) (string, error) {
	if key == "" {
		var err error
		key, err = RandomToken(24)
		if err != nil {
			return "", fmt.Errorf("exchange: generate key: %w", err)
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("exchange: marshal record: %w", err)
	}
	if err := s.cache.Set(ctx, keyPrefix+key, string(b), s.ttl); err != nil {
		return "", fmt.Errorf("exchange: store record: %w", err)
	}
	return key, nil
}

func (s *cacheStore) Consume(ctx context.Context, key string) (*Record, error) {
	return s.load(ctx, key, true)
}

func (s *cacheStore) Peek(ctx context.Context, key string) (*Record, error) {
	return s.load(ctx, key, false)
}

func (s *cacheStore) load(ctx context.Context, key string, consume bool) (*Record, error) {
	if key == "" {
		return nil, ErrInvalidExchange
	}

	var (
		val string
		err error
	)
	if consume {
		val, err = s.cache.GetDel(ctx, keyPrefix+key)
	} else {
		val, err = s.cache.Get(ctx, keyPrefix+key)
	}
	if cache.IsNotFound(err) {
		return nil, ErrInvalidExchange
	}
	if err != nil {
		return nil, fmt.Errorf("exchange: load record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, fmt.Errorf("exchange: unmarshal record: %w", err)
	}
	rec.Key = key
	return &rec, nil
}

// RandomToken returns n bytes of cryptographic randomness, base64url
// encoded without padding.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
