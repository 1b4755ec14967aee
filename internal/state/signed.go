package state

import (
	"fmt"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// stateAudience is the expected audience for signed state tokens.
const stateAudience = "oauth-state"

// signedCodec wraps the fields in an HS256 JWT. Tampering in transit then
// fails Decode instead of producing attacker-chosen continuation data.
type signedCodec struct {
	secret []byte
}

func (c *signedCodec) Encode(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, jwtv5.MapClaims{
		"aud":  stateAudience,
		"data": fields,
	})
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("state: sign: %w", err)
	}
	return signed, nil
}

func (c *signedCodec) Decode(s string) (map[string]string, error) {
	if s == "" {
		return nil, ErrMalformedState
	}
	tok, err := jwtv5.Parse(s,
		func(*jwtv5.Token) (any, error) { return c.secret, nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithAudience(stateAudience),
	)
	if err != nil || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid signature", ErrMalformedState)
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrMalformedState
	}
	raw, ok := claims["data"].(map[string]any)
	if !ok {
		return nil, ErrMalformedState
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, ErrMalformedState
		}
		fields[k] = s
	}
	return fields, nil
}
