// Package auth holds the durable outcome of a handshake: one credential
// record per (provider, user), plus the stores that persist them.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/snarfed/oauth-dropins/internal/classify"
	"github.com/snarfed/oauth-dropins/internal/providers"
)

// ErrNotFound indicates no stored credential for the id.
var ErrNotFound = errors.New("auth: credential not found")

// RecordID builds the canonical credential id.
func RecordID(provider, userID string) string {
	return provider + ":" + userID
}

// Record is one user's credential on one provider.
type Record struct {
	// ID is RecordID(Provider, UserID).
	ID       string `json:"id"`
	Provider string `json:"provider"`
	UserID   string `json:"user_id"`

	Token providers.Token `json:"token"`

	// Profile is the raw profile document fetched during the handshake.
	Profile json.RawMessage `json:"profile,omitempty"`

	// DisplayNameValue is extracted once at creation; profiles drift.
	DisplayNameValue string `json:"display_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRecord creates a Record with timestamps set.
func NewRecord(provider, userID string, tok providers.Token, profile []byte, displayName string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:               RecordID(provider, userID),
		Provider:         provider,
		UserID:           userID,
		Token:            tok,
		Profile:          profile,
		DisplayNameValue: displayName,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// DisplayName returns the human-readable name, falling back to the user
// id so callers always get something renderable.
func (r *Record) DisplayName() string {
	if r.DisplayNameValue != "" {
		return r.DisplayNameValue
	}
	return r.UserID
}

// AuthorizedRequest issues an API call on the user's behalf with this
// record's credential. Dead-credential responses surface as
// *classify.HTTPError with the marker body intact.
func (r *Record) AuthorizedRequest(ctx context.Context, c *providers.Client, method, url string, body io.Reader) (*http.Response, error) {
	return c.AuthorizedRequest(ctx, method, url, body, r.Token)
}

// IsDeadCredential reports whether an AuthorizedRequest error means the
// stored token was revoked or expired upstream. Informational: callers
// decide whether to delete or flag the record.
func IsDeadCredential(classifier *classify.Classifier, err error) bool {
	if err == nil {
		return false
	}
	code, _ := classifier.Classify(err)
	return code == "401"
}

// Store persists credential records.
type Store interface {
	// Put inserts or replaces the record under its ID.
	Put(ctx context.Context, rec *Record) error

	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	Delete(ctx context.Context, id string) error

	// ListByProvider returns all records for one provider, newest first.
	ListByProvider(ctx context.Context, provider string) ([]*Record, error)

	Ping(ctx context.Context) error
	Close()
}
