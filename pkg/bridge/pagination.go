package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrRelativeTarget is returned by CheckTarget for URLs without a scheme or host.
var ErrRelativeTarget = errors.New("URL must have a scheme and a host")

// CheckTarget reports whether rawURL is an absolute URL a session can load.
func CheckTarget(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return ErrRelativeTarget
	}
	return nil
}

// SetQueryParam returns rawURL with the query parameter name set to value.
// The first existing pair for name is replaced in place and later ones are
// dropped; otherwise the pair is appended. Every other pair is kept byte for
// byte, so queries that url.ParseQuery rejects still paginate. Scheme, host,
// path and fragment are kept as they were, and relative references are
// accepted. If rawURL is empty or cannot be parsed it is returned unchanged.
func SetQueryParam(rawURL, name string, value interface{}) string {
	if rawURL == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	pair := url.QueryEscape(name) + "=" + url.QueryEscape(fmt.Sprint(value))

	var pairs []string
	replaced := false
	for _, raw := range strings.Split(u.RawQuery, "&") {
		if raw == "" {
			continue
		}
		if queryKey(raw) == name {
			if !replaced {
				pairs = append(pairs, pair)
				replaced = true
			}
			continue
		}
		pairs = append(pairs, raw)
	}
	if !replaced {
		pairs = append(pairs, pair)
	}

	u.RawQuery = strings.Join(pairs, "&")
	u.ForceQuery = false
	return u.String()
}

// queryKey returns the unescaped key of one raw query pair, or the raw key
// when it does not unescape.
func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if unescaped, err := url.QueryUnescape(key); err == nil {
		return unescaped
	}
	return key
}
