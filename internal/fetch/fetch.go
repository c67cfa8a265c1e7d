package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorKind classifies why a fetch was refused or failed.
type ErrorKind string

const (
	KindInvalidURL ErrorKind = "invalid_url"
	KindBlocked    ErrorKind = "blocked"
	KindTooLarge   ErrorKind = "too_large"
	KindHTTPError  ErrorKind = "http_error"
	KindTimeout    ErrorKind = "timeout"
)

// Error is the typed outcome for every fetch failure. The Message is safe to
// show to end users; anything more specific stays in the logs.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// UserMessage returns the user-facing failure text for any error coming out
// of Fetch.
func UserMessage(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return "Could not fetch URL"
}

// blockedRanges rejects loopback, private, link-local (cloud metadata) and
// their IPv6 equivalents. Immutable after init.
var blockedRanges = mustPrefixes(
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // private class A
	"172.16.0.0/12",  // private class B
	"192.168.0.0/16", // private class C
	"169.254.0.0/16", // link-local / cloud metadata
	"0.0.0.0/8",      // current network
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(c))
	}
	return prefixes
}

// IsBlockedAddr reports whether addr falls in any blocked range.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolver resolves hostnames to addresses. *net.Resolver satisfies it; tests
// substitute a fixed table.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Fetcher retrieves remote HTML with SSRF protection and size limits.
type Fetcher struct {
	client     *http.Client
	resolver   Resolver
	maxBytes   int64
	dnsTimeout time.Duration
	blocked    []netip.Prefix
	log        *logrus.Entry
}

// Options configures a Fetcher. Zero values get production defaults.
type Options struct {
	MaxBytes   int64
	Timeout    time.Duration
	DNSTimeout time.Duration
	Resolver   Resolver
	Logger     *logrus.Entry
	// BlockedRanges overrides the default SSRF blocklist. Only tests
	// should need this.
	BlockedRanges []netip.Prefix
}

func New(opts Options) *Fetcher {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 * 1024 * 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DNSTimeout <= 0 {
		opts.DNSTimeout = 5 * time.Second
	}
	if opts.Resolver == nil {
		opts.Resolver = net.DefaultResolver
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.BlockedRanges == nil {
		opts.BlockedRanges = blockedRanges
	}

	f := &Fetcher{
		resolver:   opts.Resolver,
		maxBytes:   opts.MaxBytes,
		dnsTimeout: opts.DNSTimeout,
		blocked:    opts.BlockedRanges,
		log:        opts.Logger,
	}
	f.client = &http.Client{
		Timeout: opts.Timeout,
		// Every redirect hop is re-resolved and re-validated. A safe
		// initial DNS answer must not be trusted for the whole chain
		// (DNS rebinding).
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("too many redirects")
			}
			if err := f.validateTarget(req.Context(), req.URL); err != nil {
				f.log.WithFields(logrus.Fields{
					"event": "redirect_blocked",
					"url":   req.URL.String(),
				}).Warn("redirect target rejected")
				return err
			}
			return nil
		},
	}
	return f
}

// Fetch retrieves the HTML body at rawURL. Failures come back as *Error with
// a user-safe message; nothing is raised past this boundary.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		f.log.WithFields(logrus.Fields{"event": "url_validation_failed", "url": rawURL}).Warn("invalid URL")
		return "", &Error{Kind: KindInvalidURL, Message: "Invalid URL"}
	}

	if err := f.validateTarget(ctx, u); err != nil {
		f.log.WithFields(logrus.Fields{"event": "url_blocked_internal", "url": rawURL}).Warn("URL rejected")
		return "", err
	}

	// HEAD first: fail fast on an oversized Content-Length before paying
	// for the GET.
	head, err := f.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return "", f.classifyTransportError(rawURL, err)
	}
	head.Body.Close()
	if head.ContentLength > f.maxBytes {
		f.log.WithFields(logrus.Fields{
			"event":          "url_fetch_too_large",
			"url":            rawURL,
			"content_length": head.ContentLength,
			"max":            f.maxBytes,
		}).Warn("content too large")
		return "", &Error{Kind: KindTooLarge, Message: "Content too large"}
	}

	resp, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return "", f.classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.WithFields(logrus.Fields{
			"event":  "url_fetch_http_error",
			"url":    rawURL,
			"status": resp.StatusCode,
		}).Warn("fetch failed")
		return "", &Error{Kind: KindHTTPError, Message: "Could not fetch URL"}
	}

	// Re-validate the body size actually received: servers can lie in
	// Content-Length or stream past it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", f.classifyTransportError(rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		f.log.WithFields(logrus.Fields{
			"event": "url_fetch_body_too_large",
			"url":   rawURL,
			"bytes": len(body),
		}).Warn("body exceeded limit")
		return "", &Error{Kind: KindTooLarge, Message: "Content too large"}
	}

	f.log.WithFields(logrus.Fields{
		"event":  "url_fetch_success",
		"url":    rawURL,
		"status": resp.StatusCode,
		"bytes":  len(body),
	}).Info("fetched URL")
	return string(body), nil
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURL, Message: "Invalid URL"}
	}
	return f.client.Do(req)
}

// validateTarget resolves the hostname under a bounded timeout and rejects
// the request if resolution fails or any answer lands in a blocked range.
func (f *Fetcher) validateTarget(ctx context.Context, u *url.URL) error {
	host := u.Hostname()
	if host == "" {
		return &Error{Kind: KindInvalidURL, Message: "Invalid URL"}
	}

	// A literal IP skips DNS but still goes through the range check.
	if addr, err := netip.ParseAddr(host); err == nil {
		if f.isBlocked(addr) {
			return &Error{Kind: KindBlocked, Message: "URL not allowed"}
		}
		return nil
	}

	resolveCtx, cancel := context.WithTimeout(ctx, f.dnsTimeout)
	defer cancel()
	addrs, err := f.resolver.LookupNetIP(resolveCtx, "ip", host)
	if err != nil || len(addrs) == 0 {
		return &Error{Kind: KindBlocked, Message: "URL not allowed"}
	}
	for _, addr := range addrs {
		if f.isBlocked(addr) {
			return &Error{Kind: KindBlocked, Message: "URL not allowed"}
		}
	}
	return nil
}

func (f *Fetcher) isBlocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range f.blocked {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (f *Fetcher) classifyTransportError(rawURL string, err error) error {
	// A redirect hop rejected by CheckRedirect surfaces wrapped in
	// *url.Error; recover the typed outcome.
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		f.log.WithFields(logrus.Fields{"event": "url_fetch_timeout", "url": rawURL}).Warn("fetch timed out")
		return &Error{Kind: KindTimeout, Message: "Could not fetch URL"}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		f.log.WithFields(logrus.Fields{"event": "url_fetch_timeout", "url": rawURL}).Warn("fetch timed out")
		return &Error{Kind: KindTimeout, Message: "Could not fetch URL"}
	}

	f.log.WithFields(logrus.Fields{"event": "url_fetch_connection_failed", "url": rawURL}).
		WithError(err).Warn("fetch failed")
	return &Error{Kind: KindHTTPError, Message: "Could not fetch URL"}
}
