package crawler

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Scope decides whether a URL belongs to the seed's site.
type Scope struct {
	domain string
	port   string
}

// NewScope builds a Scope from the (normalized) seed URL.
func NewScope(seed string) (*Scope, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("seed %q has no host", seed)
	}
	return &Scope{
		domain: RegistrableDomain(u.Hostname()),
		port:   u.Port(),
	}, nil
}

// Domain returns the registrable domain the scope accepts.
func (s *Scope) Domain() string {
	return s.domain
}

// InScope reports whether rawURL shares the seed's registrable domain and port.
func (s *Scope) InScope(rawURL string) bool {
	if s == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Port() != s.port {
		return false
	}
	return RegistrableDomain(u.Hostname()) == s.domain
}

// RegistrableDomain returns eTLD+1 for host with any www. prefix ignored.
// IP literals and single-label hosts are returned as-is.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" || net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
