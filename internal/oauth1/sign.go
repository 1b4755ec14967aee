package oauth1

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// percentEncode escapes per RFC 3986 §2.1 as required by RFC 5849 §3.6.
// url.QueryEscape is close but encodes space as '+' and leaves '~' related
// characters differently, which breaks signatures.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') || c == '-' || c == '.' || c == '_' || c == '~' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// baseString builds the RFC 5849 §3.4.1 signature base string from the
// method, the request URL (query stripped) and all request parameters:
// query, form body, and the oauth_* protocol parameters.
func baseString(method, rawURL string, params url.Values) string {
	u, _ := url.Parse(rawURL)
	base := u.Scheme + "://" + u.Host + u.Path

	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	var enc strings.Builder
	for i, p := range pairs {
		if i > 0 {
			enc.WriteByte('&')
		}
		enc.WriteString(p.k)
		enc.WriteByte('=')
		enc.WriteString(p.v)
	}

	return strings.ToUpper(method) + "&" + percentEncode(base) + "&" + percentEncode(enc.String())
}

// sign computes the HMAC-SHA1 signature for a base string.
func sign(base, consumerSecret, tokenSecret string) string {
	key := percentEncode(consumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authorizationHeader renders the oauth_* parameters as an OAuth
// Authorization header value.
func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(params[k])))
	}
	return "OAuth " + strings.Join(parts, ", ")
}

func nonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func timestamp() string {
	return fmt.Sprintf("%d", time.Now().Unix())
}
