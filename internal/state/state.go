// Package state encodes and decodes the OAuth state parameter.
//
// The state value round-trips through the external authorization server and
// carries continuation data: the caller-supplied state string plus any
// correlation fields a handshake needs (exchange key, instance URL, PKCE
// challenge). The plain codec gives no integrity guarantee by itself; the
// security-sensitive correlation always goes through the exchange store.
// When a secret is configured the signed codec adds HMAC integrity on top.
package state

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedState indicates a state string that failed to decode. Callers
// must treat it as a hard failure of the handshake, never retryable.
var ErrMalformedState = errors.New("state: malformed state parameter")

// Codec encodes a flat string mapping into a single opaque string that is
// safe to embed in a URL query parameter, and back.
type Codec interface {
	Encode(fields map[string]string) (string, error)
	Decode(s string) (map[string]string, error)
}

// New returns the codec for the given secret: signed when secret is
// non-empty, plain otherwise.
func New(secret string) Codec {
	if secret != "" {
		return &signedCodec{secret: []byte(secret)}
	}
	return plainCodec{}
}

// plainCodec is JSON wrapped in unpadded base64url. Sorted keys come for
// free from encoding/json, so equal mappings encode identically.
type plainCodec struct{}

func (plainCodec) Encode(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("state: encode: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (plainCodec) Decode(s string) (map[string]string, error) {
	if s == "" {
		return nil, ErrMalformedState
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	var fields map[string]string
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return fields, nil
}
