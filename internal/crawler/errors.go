package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error kinds. A per-page failure is a *PageError whose Kind is one of these.
var (
	ErrNetwork            = errors.New("network error")
	ErrHTTPStatus         = errors.New("http status error")
	ErrUnsupportedContent = errors.New("unsupported content type")
	ErrRobotsFetch        = errors.New("robots fetch error")
	ErrParse              = errors.New("parse error")
	ErrPanic              = errors.New("worker panic")
	ErrRedirectBlocked    = errors.New("redirect blocked")
)

// Crawl-level errors.
var (
	ErrInvalidSeed     = errors.New("invalid seed url")
	ErrSeedUnreachable = errors.New("seed url unreachable")
	ErrCrawlDone       = errors.New("crawl already finished")
)

// PageError wraps the cause of a failed page with its kind.
type PageError struct {
	Kind error
	URL  string
	Err  error
}

// NewPageError builds a PageError.
func NewPageError(kind error, rawURL string, err error) *PageError {
	return &PageError{Kind: kind, URL: rawURL, Err: err}
}

func (e *PageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.URL, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.URL, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *PageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindName returns the short label stored on page records.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrHTTPStatus):
		return "http_status"
	case errors.Is(err, ErrUnsupportedContent):
		return "unsupported_content"
	case errors.Is(err, ErrRobotsFetch):
		return "robots_fetch"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrPanic):
		return "panic"
	case errors.Is(err, ErrRedirectBlocked):
		return "redirect_blocked"
	default:
		return "unknown"
	}
}

// IsNetworkError reports whether err looks like a transport-level failure
// (timeout, reset, refused, DNS). Context cancellation is never one.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrHTTPStatus) ||
		errors.Is(err, ErrUnsupportedContent) || errors.Is(err, ErrRedirectBlocked) {
		return false
	}
	if errors.Is(err, ErrNetwork) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection reset",
		"connection refused",
		"no such host",
		"timeout",
		"eof",
		"broken pipe",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
