// Package ssrf validates outbound webhook targets against private, loopback,
// link-local and internal destinations.
package ssrf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxURLLength is the longest URL accepted by a Guard.
const DefaultMaxURLLength = 2048

var (
	ErrInvalidURL        = errors.New("ssrf: invalid url")
	ErrURLTooLong        = errors.New("ssrf: url too long")
	ErrUnsupportedScheme = errors.New("ssrf: unsupported scheme")
	ErrHTTPSRequired     = errors.New("ssrf: https required")
	ErrBlockedHost       = errors.New("ssrf: blocked host")
	ErrBlockedAddress    = errors.New("ssrf: blocked address")
	ErrUnresolvable      = errors.New("ssrf: host could not be resolved")
)

var blockedHostnames = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"0.0.0.0":   {},
	"::1":       {},
	"[::1]":     {},
}

var blockedSuffixes = []string{".local", ".internal", ".localhost"}

// blockedIPRanges are never valid webhook destinations.
var blockedIPRanges = []string{
	"127.0.0.0/8",        // Loopback
	"10.0.0.0/8",         // Private class A
	"172.16.0.0/12",      // Private class B
	"192.168.0.0/16",     // Private class C
	"169.254.0.0/16",     // Link-local, cloud metadata
	"100.64.0.0/10",      // Carrier-grade NAT
	"0.0.0.0/8",          // "This" network
	"224.0.0.0/4",        // Multicast
	"240.0.0.0/4",        // Reserved
	"255.255.255.255/32", // Broadcast
	"::/128",             // IPv6 unspecified
	"::1/128",            // IPv6 loopback
	"fc00::/7",           // IPv6 unique local
	"fe80::/10",          // IPv6 link-local
	"ff00::/8",           // IPv6 multicast
}

var blockedCIDRs []*net.IPNet

func init() {
	for _, cidr := range blockedIPRanges {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("ssrf: bad cidr %q: %v", cidr, err))
		}
		blockedCIDRs = append(blockedCIDRs, ipNet)
	}
}

// IsBlockedIP reports whether ip lies in a blocked range. IPv4-mapped IPv6
// addresses are checked against the IPv4 ranges.
func IsBlockedIP(ip net.IP) bool {
	for _, cidr := range blockedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// IsPrivateOrLocalhost reports whether hostname names a loopback, private,
// link-local or internal destination. The comparison is case-insensitive and
// performs no DNS resolution.
func IsPrivateOrLocalhost(hostname string) bool {
	h := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if h == "" {
		return true
	}
	if _, ok := blockedHostnames[h]; ok {
		return true
	}
	if strings.HasPrefix(h, "127.") || strings.HasPrefix(h, "0.") {
		return true
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return true
		}
	}

	literal := strings.TrimSuffix(strings.TrimPrefix(h, "["), "]")
	if i := strings.IndexByte(literal, '%'); i >= 0 {
		literal = literal[:i]
	}
	if ip := net.ParseIP(literal); ip != nil {
		return IsBlockedIP(ip)
	}
	return false
}

// Resolver looks up the addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates candidate webhook URLs.
type Guard struct {
	requireHTTPS bool
	resolver     Resolver
	maxLength    int
}

// Option configures a Guard.
type Option func(*Guard)

// RequireHTTPS rejects plain http URLs when v is true.
func RequireHTTPS(v bool) Option {
	return func(g *Guard) { g.requireHTTPS = v }
}

// WithResolver enables resolve-then-check: every address the host resolves
// to must be outside the blocked ranges.
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithMaxURLLength overrides DefaultMaxURLLength.
func WithMaxURLLength(n int) Option {
	return func(g *Guard) { g.maxLength = n }
}

// New creates a Guard. Without WithResolver only hostname patterns are checked.
func New(opts ...Option) *Guard {
	g := &Guard{maxLength: DefaultMaxURLLength}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckURL validates raw as a webhook destination and returns the parsed URL.
func (g *Guard) CheckURL(ctx context.Context, raw string) (*url.URL, error) {
	if len(raw) > g.maxLength {
		return nil, ErrURLTooLong
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: absolute url with host required", ErrInvalidURL)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if g.requireHTTPS {
			return nil, ErrHTTPSRequired
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Hostname()
	if IsPrivateOrLocalhost(host) {
		return nil, fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}

	if g.resolver != nil && net.ParseIP(host) == nil {
		if _, err := g.resolve(ctx, g.resolver, host); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// resolve looks up host and fails closed if any address is blocked.
func (g *Guard) resolve(ctx context.Context, r Resolver, host string) ([]net.IP, error) {
	addrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnresolvable, host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvable, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if IsBlockedIP(a.IP) {
			return nil, fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, a.IP)
		}
		ips = append(ips, a.IP)
	}
	return ips, nil
}

// DialContext wraps dialer so every connection is checked at dial time.
// The host is resolved once and the connection is made to a checked IP, so
// a DNS answer that changes after validation cannot redirect the request.
func (g *Guard) DialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	resolver := g.resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
		}
		if IsPrivateOrLocalhost(host) {
			return nil, fmt.Errorf("%w: %s", ErrBlockedHost, host)
		}

		var ips []net.IP
		if ip := net.ParseIP(host); ip != nil {
			ips = []net.IP{ip}
		} else {
			ips, err = g.resolve(ctx, resolver, host)
			if err != nil {
				return nil, err
			}
		}

		var lastErr error
		for _, ip := range ips {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}
}

// maxRedirects bounds redirect chains followed by HTTPClient.
const maxRedirects = 3

// HTTPClient returns a client whose connections and redirects pass the guard.
func (g *Guard) HTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           g.DialContext(dialer),
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: timeout,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("ssrf: stopped after %d redirects", maxRedirects)
			}
			if _, err := g.CheckURL(req.Context(), req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
}
