// Package classify normalizes the failure shapes coming back from provider
// HTTP calls into a single (status code, body) pair.
//
// Different client stacks fail differently: transport errors, non-2xx
// responses with JSON bodies, plain-text bodies, OAuth error documents. The
// one piece of semantics this package adds on top of normalization is the
// 401 remap: a small set of provider error markers mean the stored
// credential is dead regardless of the transport-level code, and callers use
// that to decide whether to disable an account. Nothing here retries.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// HTTPError is a non-2xx provider response. Provider clients return it from
// token-exchange and profile calls so the classifier can see both the code
// and the body.
type HTTPError struct {
	StatusCode int
	Body       string
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s: %s", e.StatusCode, e.URL, truncate(e.Body, 200))
}

// Extractor pulls a (code, body) pair out of one failure shape. ok is false
// when the shape isn't recognized and the next extractor should run.
type Extractor func(err error) (code, body string, ok bool)

// deadCredentialMarkers are provider error substrings that signal the
// credential has been invalidated server-side, whatever the HTTP status
// says. Matching is case-insensitive.
var deadCredentialMarkers = []string{
	"token has been revoked",
	"app requires re-authentication",
	"error validating access token",
	"session has expired",
	"the access_token provided is invalid",
	"invalid_grant",
}

// Classifier maps heterogeneous failures to a normalized pair. The zero
// value is not usable; call New.
type Classifier struct {
	extractors []Extractor
}

// New returns a Classifier with the default extractor chain.
func New() *Classifier {
	c := &Classifier{}
	c.Register(extractHTTPError)
	c.Register(extractURLError)
	return c
}

// Register appends an extractor. Extractors run in registration order until
// one recognizes the error.
func (c *Classifier) Register(e Extractor) {
	c.extractors = append(c.extractors, e)
}

// Classify returns a best-effort (code, body) pair for err. It never
// panics and returns ("", "") when nothing intelligible can be extracted.
// The result is a pure function of the error's shape.
func (c *Classifier) Classify(err error) (code, body string) {
	if err == nil {
		return "", ""
	}
	for _, extract := range c.extractors {
		got, gotBody, ok := extract(err)
		if !ok {
			continue
		}
		code, body = got, gotBody
		break
	}
	if isDeadCredential(body) {
		code = "401"
	}
	return code, body
}

func isDeadCredential(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range deadCredentialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func extractHTTPError(err error) (string, string, bool) {
	var he *HTTPError
	if !errors.As(err, &he) {
		return "", "", false
	}
	return fmt.Sprintf("%d", he.StatusCode), he.Body, true
}

// extractURLError recognizes transport-level failures: DNS, refused
// connections, timeouts. There is no status code to report.
func extractURLError(err error) (string, string, bool) {
	var ue *url.Error
	if errors.As(err, &ue) {
		return "", "", true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "", "", true
	}
	return "", "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
