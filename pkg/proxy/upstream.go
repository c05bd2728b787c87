package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Upstream fetches resources on behalf of intercepted requests. Requests
// for the application's own host are rewritten to the configured origin;
// cross-origin requests are fetched from their original host.
type Upstream struct {
	origin     *url.URL
	publicHost string
	client     *http.Client
}

// NewUpstream creates an upstream fetcher.
func NewUpstream(origin *url.URL, publicHost string) *Upstream {
	return &Upstream{
		origin:     origin,
		publicHost: publicHost,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Fetch performs the network fetch for an intercepted request. The
// inbound server request is never reused directly: a fresh outbound
// request is built so server-only fields do not leak into the client.
func (u *Upstream) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	target := *req.URL
	if target.Host == "" {
		target.Host = req.Host
	}
	if target.Scheme == "" {
		target.Scheme = "http"
	}

	if hostOnly(target.Host) == hostOnly(u.publicHost) {
		target.Scheme = u.origin.Scheme
		target.Host = u.origin.Host
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyRequestHeaders(out.Header, req.Header)

	return u.client.Do(out)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (u *Upstream) SetHTTPClient(client *http.Client) {
	u.client = client
}

// copyRequestHeaders forwards request headers, dropping hop-by-hop ones.
func copyRequestHeaders(dst, src http.Header) {
	for name, values := range src {
		switch name {
		case "Connection", "Keep-Alive", "Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade":
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
