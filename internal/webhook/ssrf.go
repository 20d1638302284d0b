package webhook

import (
	"net"
	"net/url"
	"strings"

	"github.com/vibemcp/vibemcp/internal/errors"
)

// blockedHostnames are literal hostnames that always denote internal
// targets.
var blockedHostnames = map[string]struct{}{
	"localhost":                {},
	"127.0.0.1":                {},
	"::1":                      {},
	"0.0.0.0":                  {},
	"metadata.google.internal": {},
	"metadata.goog":            {},
}

// blockedRanges are private, loopback, and link-local networks that
// webhook targets must not resolve into.
var blockedRanges = mustParseCIDRs(
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // private class A
	"172.16.0.0/12",  // private class B
	"192.168.0.0/16", // private class C
	"169.254.0.0/16", // link-local
	"::1/128",        // IPv6 loopback
	"fc00::/7",       // IPv6 private
	"fe80::/10",      // IPv6 link-local
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// validateURL rejects webhook URLs that point at internal or private
// networks. DNS-resolution failures are tolerated: the target might be
// valid but unreachable right now.
func validateURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.InputInvalid("invalid URL: " + err.Error())
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.InputInvalid("URL must use http or https scheme")
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return errors.InputInvalid("URL must have a valid hostname")
	}
	if _, blocked := blockedHostnames[strings.ToLower(hostname)]; blocked {
		return errors.InputInvalid("blocked hostname: " + hostname)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		for _, blocked := range blockedRanges {
			if blocked.Contains(ip) {
				return errors.InputInvalid("URL resolves to blocked IP range: " + ip.String())
			}
		}
	}

	return nil
}
