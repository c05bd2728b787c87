// Package classify decides, per intercepted request, whether to bypass
// interception entirely and which caching strategy applies otherwise.
package classify

import (
	"net"
	"net/http"
	"strings"
)

// Strategy is the caching policy assigned to a request.
type Strategy string

const (
	// StrategyBypass passes the request through to the network untouched,
	// with no cache read or write.
	StrategyBypass Strategy = "bypass"

	// StrategyCacheFirst serves from cache when possible and only falls
	// back to the network on a miss. Lowest latency, accepts staleness.
	StrategyCacheFirst Strategy = "cache-first"

	// StrategyNetworkFirst fetches fresh and falls back to cache when the
	// network fails. Documents need this: stale HTML can reference
	// since-deleted assets.
	StrategyNetworkFirst Strategy = "network-first"

	// StrategyStaleWhileRevalidate serves the cached copy immediately and
	// refreshes it in the background. A slightly stale bundle is safe but
	// a blocked paint is not.
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Config holds the classification rules.
type Config struct {
	// AppHost is the application's own host. Requests to any other host
	// are cross-origin.
	AppHost string

	// BackendHosts is the explicit allowlist of backend API hosts whose
	// traffic must never be intercepted. Staleness there would corrupt
	// business data.
	BackendHosts []string

	// IconsPrefix marks the path prefix served cache-first.
	IconsPrefix string

	// DevPathPrefixes and DevPathSuffixes identify local dev-tooling
	// requests (hot-reload channels, source maps). They only apply when
	// the request host is a loopback address.
	DevPathPrefixes []string
	DevPathSuffixes []string
}

// DefaultConfig returns the default classification rules for an
// application host.
func DefaultConfig(appHost string) Config {
	return Config{
		AppHost:     appHost,
		IconsPrefix: "/icons/",
		DevPathPrefixes: []string{
			"/@vite",
			"/@react-refresh",
			"/sockjs-node",
			"/__webpack_hmr",
		},
		DevPathSuffixes: []string{
			".map",
			".hot-update.json",
			".hot-update.js",
		},
	}
}

// Classifier assigns a strategy to every intercepted request. It is
// stateless: classification is a pure function of the request, recomputed
// per request and never persisted.
type Classifier struct {
	cfg          Config
	backendHosts map[string]struct{}
}

// New creates a classifier from the given rules.
func New(cfg Config) *Classifier {
	backends := make(map[string]struct{}, len(cfg.BackendHosts))
	for _, h := range cfg.BackendHosts {
		backends[hostOnly(h)] = struct{}{}
	}
	return &Classifier{
		cfg:          cfg,
		backendHosts: backends,
	}
}

// Classify returns the strategy for a request.
func (c *Classifier) Classify(r *http.Request) Strategy {
	if c.shouldBypass(r) {
		return StrategyBypass
	}

	host := requestHost(r)
	path := r.URL.Path
	accept := r.Header.Get("Accept")

	// Cross-origin assets (third-party CDNs) always go network-first.
	if c.cfg.AppHost != "" && host != hostOnly(c.cfg.AppHost) {
		return StrategyNetworkFirst
	}

	if c.cfg.IconsPrefix != "" && strings.HasPrefix(path, c.cfg.IconsPrefix) {
		return StrategyCacheFirst
	}

	if isDocument(path, accept) {
		return StrategyNetworkFirst
	}

	if hasAnySuffix(path, ".js", ".mjs", ".css") {
		return StrategyStaleWhileRevalidate
	}

	return StrategyCacheFirst
}

// shouldBypass reports whether the request must pass through untouched.
func (c *Classifier) shouldBypass(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return true
	}

	if scheme := r.URL.Scheme; scheme != "" && scheme != "http" && scheme != "https" {
		return true
	}

	host := requestHost(r)
	if _, ok := c.backendHosts[host]; ok {
		return true
	}

	// Dev-tooling requests are only recognizable on loopback hosts;
	// intercepting them would break local development.
	if isLoopback(host) && c.isDevPath(r.URL.Path) {
		return true
	}

	// Long-lived event streams must never be buffered or cached.
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}

	return false
}

func (c *Classifier) isDevPath(path string) bool {
	for _, prefix := range c.cfg.DevPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, suffix := range c.cfg.DevPathSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// isDocument reports whether the request targets an HTML document.
func isDocument(path, accept string) bool {
	if strings.Contains(accept, "text/html") {
		return true
	}
	if path == "/" || path == "" {
		return true
	}
	return hasAnySuffix(path, ".html", ".htm")
}

func hasAnySuffix(path string, suffixes ...string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// requestHost returns the request's target host without the port.
func requestHost(r *http.Request) string {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	return hostOnly(host)
}

// hostOnly strips an optional port from a host string.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// isLoopback reports whether the host is a loopback address.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
