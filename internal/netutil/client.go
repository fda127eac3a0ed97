package netutil

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

const defaultUserAgent = "nexus-vanguard/1.0"

// ClientOptions tunes the shared outbound HTTP client.
type ClientOptions struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	// UserAgentFn supplies the User-Agent per request; hot-reloadable.
	// Falls back to the package default when nil or returning "".
	UserAgentFn func() string
}

// NewOutboundClient builds a pooled HTTP client for upstream data providers.
// HTTP/2 health-check pings keep long-idle connections from going stale
// behind CDN load balancers.
func NewOutboundClient(opts ClientOptions) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		IdleConnTimeout:     opts.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	h2, err := http2.ConfigureTransports(transport)
	if err != nil {
		return nil, fmt.Errorf("netutil: configure http2: %w", err)
	}
	h2.ReadIdleTimeout = 30 * time.Second
	h2.PingTimeout = 15 * time.Second

	return &http.Client{
		Transport: &userAgentTransport{base: transport, userAgentFn: opts.UserAgentFn},
	}, nil
}

// userAgentTransport stamps the configured User-Agent on every request
// that does not already carry one.
type userAgentTransport struct {
	base        http.RoundTripper
	userAgentFn func() string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		ua := ""
		if t.userAgentFn != nil {
			ua = t.userAgentFn()
		}
		if ua == "" {
			ua = defaultUserAgent
		}
		// Clone before mutating: RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", ua)
	}
	return t.base.RoundTrip(req)
}
