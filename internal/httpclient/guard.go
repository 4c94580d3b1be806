// Package httpclient builds the HTTP client used to fetch media from
// client-supplied URLs. Unless private hosts are allowed, it refuses to
// reach loopback, private, link-local and other non-public addresses, both
// by name and after DNS resolution.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/brandguard/errors"
)

// ErrBlocked marks a request refused by the address guard
var ErrBlocked = errors.New("destination blocked")

// Options configures New
type Options struct {
	Timeout      time.Duration // whole-request timeout, 0 = none
	AllowPrivate bool
	MaxRedirects int // default 10
}

// New returns an http.Client that applies the guard to the first request,
// every redirect and every dialled address
func New(opts Options) *http.Client {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.AllowPrivate {
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "resolve %s", host)
			}
			for _, ip := range ips {
				if !Public(ip) {
					return nil, errors.Wrapf(ErrBlocked, "%s resolves to %s", host, ip)
				}
			}
			// Dial the checked address so a second lookup cannot rebind
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &guardedTransport{next: transport, allowPrivate: opts.AllowPrivate},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return errors.Newf("stopped after %d redirects", opts.MaxRedirects)
			}
			return errors.Wrap(CheckURL(req.URL, opts.AllowPrivate), "redirect")
		},
	}
}

// guardedTransport validates each request URL before it reaches the dialer
type guardedTransport struct {
	next         http.RoundTripper
	allowPrivate bool
}

func (t *guardedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := CheckURL(req.URL, t.allowPrivate); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}

// CheckURL rejects URLs that are not plain http(s) to a named or public
// host. Private literals and localhost names pass only with allowPrivate.
func CheckURL(u *url.URL, allowPrivate bool) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return errors.Wrapf(ErrBlocked, "scheme %q", u.Scheme)
	}
	// user@host is almost always an attempt to confuse the host check
	if u.User != nil {
		return errors.Wrap(ErrBlocked, "URL carries userinfo")
	}
	host := u.Hostname()
	if host == "" {
		return errors.Wrap(ErrBlocked, "URL has no host")
	}
	if allowPrivate {
		return nil
	}
	if isLocalName(host) {
		return errors.Wrapf(ErrBlocked, "local host %s", host)
	}
	if ip, err := netip.ParseAddr(host); err == nil && !Public(ip) {
		return errors.Wrapf(ErrBlocked, "non-public address %s", ip)
	}
	return nil
}

// Public reports whether ip is a globally routable unicast address
func Public(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.IsValid() || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() ||
		ip.IsInterfaceLocalMulticast() {
		return false
	}
	for _, p := range reserved {
		if p.Contains(ip) {
			return false
		}
	}
	return true
}

var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fec0::/10"),
}

func isLocalName(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
