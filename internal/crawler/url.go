package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var skippedLinkPrefixes = []string{"javascript:", "mailto:", "tel:", "data:"}

// NormalizeURL standardizes an absolute URL so equivalent forms compare equal.
// It lowercases the scheme and host, removes default ports, drops the fragment
// and strips a single trailing slash from the path.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	out, ok := normalize(u, true)
	if !ok {
		return "", fmt.Errorf("url %q: %w", rawURL, errors.New("absolute http(s) url required"))
	}
	return out, nil
}

// ResolveLink resolves raw against base and normalizes the result. Links that
// can never be crawled (javascript:, mailto:, tel:, bare anchors, empty) yield
// ok=false rather than an error.
func ResolveLink(base *url.URL, raw string) (string, bool) {
	key, _, ok := ResolveLinkTarget(base, raw)
	return key, ok
}

// ResolveLinkTarget is ResolveLink that also returns the address to request:
// the resolved link without its fragment but with its trailing slash kept, so
// relative links on a directory page resolve under that directory.
func ResolveLinkTarget(base *url.URL, raw string) (key, target string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", "", false
	}
	lower := strings.ToLower(raw)
	for _, prefix := range skippedLinkPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", "", false
		}
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if key, ok = normalize(ref, true); !ok {
		return "", "", false
	}
	target, _ = normalize(ref, false)
	return key, target, true
}

func normalize(u *url.URL, stripSlash bool) (string, bool) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Host)
	if scheme == "http" {
		host = strings.TrimSuffix(host, ":80")
	}
	if scheme == "https" {
		host = strings.TrimSuffix(host, ":443")
	}
	if host == "" {
		return "", false
	}
	cp := *u
	cp.Scheme = scheme
	cp.Host = host
	cp.Fragment = ""
	cp.RawFragment = ""
	if stripSlash && strings.HasSuffix(cp.Path, "/") {
		cp.Path = strings.TrimSuffix(cp.Path, "/")
		cp.RawPath = strings.TrimSuffix(cp.RawPath, "/")
	}
	return cp.String(), true
}
