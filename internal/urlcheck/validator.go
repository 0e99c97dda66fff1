// Package urlcheck validates and normalizes user-supplied website URLs
// before any probe touches the network. Every outbound fetch in the engine
// goes through Validate; nothing else may build a target URL from user input.
package urlcheck

import (
	"net"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalidURL is returned for input that cannot be a public website URL.
var ErrInvalidURL = eris.New("urlcheck: invalid url")

// ErrBlockedHost is returned when the host points at internal infrastructure.
var ErrBlockedHost = eris.New("urlcheck: host not allowed")

// blockedNets covers loopback, private, link-local (including cloud metadata
// at 169.254.169.254), carrier-grade NAT, and their IPv6 counterparts.
var blockedNets = mustParseCIDRs(
	"0.0.0.0/8",
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

// Validate normalizes raw into a canonical absolute URL and rejects anything
// that could reach internal infrastructure. A bare domain is normalized to
// https with a root path. The returned URL is safe to fetch.
func Validate(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.Wrap(ErrInvalidURL, "empty")
	}

	if err := checkEncoding(raw); err != nil {
		return "", err
	}

	// A bare host like "acme.example" gets a scheme so url.Parse treats it
	// as a host rather than a path.
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrap(ErrInvalidURL, err.Error())
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return "", eris.Wrapf(ErrInvalidURL, "scheme %q", u.Scheme)
	}

	if u.User != nil {
		return "", eris.Wrap(ErrInvalidURL, "credentials in url")
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", eris.Wrap(ErrInvalidURL, "missing host")
	}
	if err := checkHost(host); err != nil {
		return "", err
	}

	u.Host = strings.ToLower(u.Host)
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// checkEncoding rejects control characters and encoded forms that survive a
// single decode pass. Double-encoded sequences (%25..) are refused outright
// rather than decoded again.
func checkEncoding(raw string) error {
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return eris.Wrap(ErrInvalidURL, "control character")
		}
	}
	lower := strings.ToLower(raw)
	for _, seq := range []string{"%00", "%0d", "%0a", "%25"} {
		if strings.Contains(lower, seq) {
			return eris.Wrapf(ErrInvalidURL, "encoded sequence %s", seq)
		}
	}
	return nil
}

func checkHost(host string) error {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return eris.Wrapf(ErrBlockedHost, "%s", host)
	}

	// IPv6 literals arrive bracket-stripped from Hostname().
	if ip := net.ParseIP(host); ip != nil {
		for _, n := range blockedNets {
			if n.Contains(ip) {
				return eris.Wrapf(ErrBlockedHost, "%s", host)
			}
		}
		return nil
	}

	// A purely numeric hostname is an obfuscated IP (e.g. 2130706433 for
	// 127.0.0.1). Refuse it instead of guessing what it resolves to.
	if isAllDigits(host) {
		return eris.Wrapf(ErrBlockedHost, "numeric host %s", host)
	}

	if !strings.Contains(host, ".") {
		return eris.Wrapf(ErrInvalidURL, "bare hostname %s", host)
	}
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
