// Package pkce implements Proof Key for Code Exchange (RFC 7636) for the
// providers whose authorization servers require it.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// NewVerifier generates a cryptographically random code verifier.
// 32 bytes of entropy, 43 characters in unpadded base64url.
func NewVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Challenge computes the S256 code challenge for a verifier.
func Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
