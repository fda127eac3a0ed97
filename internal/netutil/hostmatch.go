package netutil

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ExtractDomain extracts the effective top-level-domain-plus-one (eTLD+1)
// from a target string that may be host:port, a URL, an IPv6 address, etc.
//
// Examples:
//
//	"https://cdn.nba.com/static/json" -> "nba.com"
//	"stats.nba.com:443"               -> "nba.com"
//	"192.168.1.1:8080"                -> "192.168.1.1"
//	"localhost"                       -> "localhost"
//	"[::1]:80"                        -> "::1"
func ExtractDomain(target string) string {
	// If target is a URL, parse out the host first.
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}

	host := target

	// Split off port. net.SplitHostPort handles both "host:port" and "[ipv6]:port".
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else {
		// Handle bare bracketed IPv6 like "[::1]" -> "::1".
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	}

	// Use the Public Suffix List to extract eTLD+1.
	// Returns error for IP addresses, localhost, or bare TLDs.
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}

	// Fallback: return host as-is (IP addresses, internal names, etc.).
	return host
}

// ExtractHost returns the bare hostname from a URL or host:port target,
// without reducing to eTLD+1.
func ExtractHost(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "//") {
		if u, err := url.Parse(target); err == nil && u.Host != "" {
			target = u.Host
		}
	}
	if h, _, err := net.SplitHostPort(target); err == nil {
		return h
	}
	if strings.HasPrefix(target, "[") && strings.HasSuffix(target, "]") {
		return target[1 : len(target)-1]
	}
	return target
}

// MatchesAnyHost reports whether the target's hostname equals one of hosts
// or is a subdomain of one. Targets may be URLs, host:port pairs, or bare
// hostnames. Matching is case-insensitive.
func MatchesAnyHost(target string, hosts []string) bool {
	host := strings.ToLower(ExtractHost(target))
	if host == "" {
		return false
	}
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
