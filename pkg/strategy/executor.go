// Package strategy implements the three caching algorithms (cache-first,
// network-first, stale-while-revalidate) over the partition store.
package strategy

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/portalops/offline-proxy/pkg/classify"
	"github.com/portalops/offline-proxy/pkg/store"
)

// Prometheus metrics for strategy execution.
var (
	strategyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_strategy_requests_total",
		Help: "Total strategy executions by strategy and outcome",
	}, []string{"strategy", "outcome"})

	fallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_fallbacks_total",
		Help: "Total fallback responses by kind",
	}, []string{"kind"}) // "cache", "root_document", "offline"

	backgroundRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_background_refreshes_total",
		Help: "Total stale-while-revalidate background refreshes by result",
	}, []string{"result"}) // "updated", "failed", "skipped"
)

// Fetcher performs the actual network fetch for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Config holds the executor configuration.
type Config struct {
	// Static is the partition pre-populated with the application shell.
	Static *store.Handle

	// Dynamic is the partition populated at runtime.
	Dynamic *store.Handle

	// Fetcher performs upstream fetches.
	Fetcher Fetcher

	// RootURL is the absolute URL of the root document, used as the
	// navigation fallback when a page request cannot be satisfied.
	RootURL string

	// Logger for strategy events.
	Logger zerolog.Logger

	// MaxConcurrentRefreshes caps how many background refreshes run at
	// once so a burst of stale hits cannot stampede the upstream. Excess
	// refreshes queue for a slot until their RefreshTimeout expires.
	MaxConcurrentRefreshes int

	// RefreshTimeout bounds each background refresh.
	RefreshTimeout time.Duration
}

// Executor runs the caching strategies. Every strategy returns a valid
// *http.Response and never an error: on unrecoverable failure the
// fallback chain ends in a synthesized 503.
type Executor struct {
	static         *store.Handle
	dynamic        *store.Handle
	fetcher        Fetcher
	rootURL        string
	logger         zerolog.Logger
	refreshSem     chan struct{}
	refreshTimeout time.Duration
}

// New creates a strategy executor.
func New(cfg Config) *Executor {
	if cfg.MaxConcurrentRefreshes <= 0 {
		cfg.MaxConcurrentRefreshes = 8
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 15 * time.Second
	}
	return &Executor{
		static:         cfg.Static,
		dynamic:        cfg.Dynamic,
		fetcher:        cfg.Fetcher,
		rootURL:        cfg.RootURL,
		logger:         cfg.Logger,
		refreshSem:     make(chan struct{}, cfg.MaxConcurrentRefreshes),
		refreshTimeout: cfg.RefreshTimeout,
	}
}

// Execute runs the given strategy for a request.
func (e *Executor) Execute(ctx context.Context, strat classify.Strategy, req *http.Request) *http.Response {
	switch strat {
	case classify.StrategyNetworkFirst:
		return e.NetworkFirst(ctx, req)
	case classify.StrategyStaleWhileRevalidate:
		return e.StaleWhileRevalidate(ctx, req)
	default:
		return e.CacheFirst(ctx, req)
	}
}

// CacheFirst serves the cached entry when present, with no network call
// at all. On a miss it fetches, stores a clone of successful responses in
// the dynamic partition, and returns the live response.
func (e *Executor) CacheFirst(ctx context.Context, req *http.Request) *http.Response {
	sig := store.SignatureFromRequest(req)

	if entry := e.lookup(ctx, sig); entry != nil {
		strategyRequestsTotal.WithLabelValues("cache_first", "hit").Inc()
		return store.EntryToResponse(entry)
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", sig.URL).Msg("Cache-first fetch failed")
		strategyRequestsTotal.WithLabelValues("cache_first", "fallback").Inc()
		return e.fallback(ctx, req)
	}

	e.storeResponse(ctx, sig, resp)
	strategyRequestsTotal.WithLabelValues("cache_first", "miss").Inc()
	return resp
}

// NetworkFirst always fetches fresh first. Successful responses replace
// the cached entry; on network failure the cached entry is served, then
// the rest of the fallback chain.
func (e *Executor) NetworkFirst(ctx context.Context, req *http.Request) *http.Response {
	sig := store.SignatureFromRequest(req)

	resp, err := e.fetcher.Fetch(ctx, req)
	if err == nil {
		e.storeResponse(ctx, sig, resp)
		strategyRequestsTotal.WithLabelValues("network_first", "network").Inc()
		return resp
	}

	e.logger.Warn().Err(err).Str("url", sig.URL).Msg("Network-first fetch failed")

	if entry := e.lookup(ctx, sig); entry != nil {
		strategyRequestsTotal.WithLabelValues("network_first", "cache").Inc()
		fallbacksTotal.WithLabelValues("cache").Inc()
		return store.EntryToResponse(entry)
	}

	strategyRequestsTotal.WithLabelValues("network_first", "fallback").Inc()
	return e.offlineFallback(ctx, req)
}

// StaleWhileRevalidate serves the cached entry immediately and always
// starts a background refresh whose result only benefits the next
// request. On a miss the caller waits for the foreground fetch.
func (e *Executor) StaleWhileRevalidate(ctx context.Context, req *http.Request) *http.Response {
	sig := store.SignatureFromRequest(req)

	if entry := e.lookup(ctx, sig); entry != nil {
		e.refreshInBackground(req, sig)
		strategyRequestsTotal.WithLabelValues("stale_while_revalidate", "hit").Inc()
		return store.EntryToResponse(entry)
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", sig.URL).Msg("Revalidate fetch failed on cold cache")
		strategyRequestsTotal.WithLabelValues("stale_while_revalidate", "fallback").Inc()
		return e.fallback(ctx, req)
	}

	e.storeResponse(ctx, sig, resp)
	strategyRequestsTotal.WithLabelValues("stale_while_revalidate", "miss").Inc()
	return resp
}

// lookup searches the static partition first, then the dynamic one.
// Store errors are logged and treated as misses; a miss is a normal
// outcome, never a failure.
func (e *Executor) lookup(ctx context.Context, sig store.Signature) *store.Entry {
	for _, handle := range []*store.Handle{e.static, e.dynamic} {
		if handle == nil {
			continue
		}
		entry, err := handle.Get(ctx, sig)
		if err == nil {
			return entry
		}
		if err != store.ErrCacheMiss {
			e.logger.Warn().Err(err).
				Str("partition", handle.Name()).
				Str("signature", sig.String()).
				Msg("Cache lookup error")
		}
	}
	return nil
}

// storeResponse stores a clone of a successful response in the dynamic
// partition and reports whether an entry was written. The caller keeps a
// readable body either way.
func (e *Executor) storeResponse(ctx context.Context, sig store.Signature, resp *http.Response) bool {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	entry, err := store.ResponseToEntry(resp)
	if err != nil {
		e.logger.Warn().Err(err).Str("url", sig.URL).Msg("Failed to create cache entry")
		return false
	}

	if err := e.dynamic.Put(ctx, sig, entry); err != nil {
		e.logger.Warn().Err(err).Str("url", sig.URL).Msg("Failed to cache response")
		return false
	}

	e.logger.Debug().
		Str("url", sig.URL).
		Str("partition", e.dynamic.Name()).
		Int("bytes", len(entry.Body)).
		Msg("Cached response")
	return true
}

// refreshInBackground fetches the resource on a detached context and
// stores the result for the next request. Every hit starts a refresh;
// the semaphore only bounds how many run at once, so under a burst a
// refresh waits for a slot and is abandoned only when its own timeout
// expires first. Failures are swallowed: the response path has already
// completed independently.
func (e *Executor) refreshInBackground(req *http.Request, sig store.Signature) {
	// Detach from the caller's context: the page that issued the request
	// may be gone before the refresh settles.
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), e.refreshTimeout)
	bgReq := req.Clone(bgCtx)

	go func() {
		defer cancel()

		select {
		case e.refreshSem <- struct{}{}:
		case <-bgCtx.Done():
			backgroundRefreshesTotal.WithLabelValues("skipped").Inc()
			e.logger.Debug().Str("url", sig.URL).Msg("Background refresh timed out waiting for a slot")
			return
		}
		defer func() { <-e.refreshSem }()

		resp, err := e.fetcher.Fetch(bgCtx, bgReq)
		if err != nil {
			backgroundRefreshesTotal.WithLabelValues("failed").Inc()
			e.logger.Debug().Err(err).Str("url", sig.URL).Msg("Background refresh failed")
			return
		}
		defer resp.Body.Close()

		if e.storeResponse(bgCtx, sig, resp) {
			backgroundRefreshesTotal.WithLabelValues("updated").Inc()
		} else {
			backgroundRefreshesTotal.WithLabelValues("failed").Inc()
		}
	}()
}
