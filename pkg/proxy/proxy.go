// Package proxy is the interception surface of the offline cache: it
// classifies every incoming request and either passes it through to the
// network untouched or answers it with one of the caching strategies.
package proxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/portalops/offline-proxy/pkg/classify"
	"github.com/portalops/offline-proxy/pkg/lifecycle"
	"github.com/portalops/offline-proxy/pkg/strategy"
)

// Prometheus metrics for the interception surface.
var (
	interceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_requests_total",
		Help: "Total requests seen by the proxy by assigned strategy",
	}, []string{"strategy"})

	uncontrolledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_proxy_uncontrolled_requests_total",
		Help: "Requests passed through because no cache version is active",
	})
)

// Config holds the proxy configuration.
type Config struct {
	// Classifier assigns a strategy to each request.
	Classifier *classify.Classifier

	// Supervisor provides the currently active cache version.
	Supervisor *lifecycle.Supervisor

	// Fetcher performs upstream fetches for the strategies.
	Fetcher strategy.Fetcher

	// Origin is the upstream the passthrough path proxies to.
	Origin *url.URL

	// PublicHost is the client-facing host of the application.
	PublicHost string

	// Logger for request handling.
	Logger zerolog.Logger
}

// Proxy intercepts requests and serves them per the assigned strategy.
// It implements http.Handler.
type Proxy struct {
	classifier  *classify.Classifier
	sup         *lifecycle.Supervisor
	fetcher     strategy.Fetcher
	passthrough http.Handler
	logger      zerolog.Logger

	mu       sync.Mutex
	execFor  *lifecycle.Controller
	executor *strategy.Executor
}

// New creates the proxy.
func New(cfg Config) *Proxy {
	return &Proxy{
		classifier:  cfg.Classifier,
		sup:         cfg.Supervisor,
		fetcher:     cfg.Fetcher,
		passthrough: newPassthrough(cfg.Origin, cfg.PublicHost),
		logger:      cfg.Logger,
	}
}

// ServeHTTP classifies the request and dispatches it. The decision to
// intercept or pass through is made up front, before any cache or
// network work starts.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	strat := p.classifier.Classify(r)
	interceptedTotal.WithLabelValues(string(strat)).Inc()

	if strat == classify.StrategyBypass {
		p.passthrough.ServeHTTP(w, r)
		return
	}

	ctrl := p.sup.Active()
	if ctrl == nil || ctrl.State() != lifecycle.StateActive {
		// No active version yet: the page is not controlled, so the
		// request goes to the network untouched.
		uncontrolledTotal.Inc()
		p.passthrough.ServeHTTP(w, r)
		return
	}

	resp := p.executorFor(ctrl).Execute(r.Context(), strat, r)
	writeResponse(w, resp, p.logger)

	p.logger.Debug().
		Str("strategy", string(strat)).
		Str("url", r.URL.String()).
		Int("status", resp.StatusCode).
		Msg("Served intercepted request")
}

// executorFor returns the strategy executor bound to the controller's
// partitions, rebuilding it when a new version takes over.
func (p *Proxy) executorFor(ctrl *lifecycle.Controller) *strategy.Executor {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.execFor != ctrl {
		p.executor = strategy.New(strategy.Config{
			Static:  ctrl.Static(),
			Dynamic: ctrl.Dynamic(),
			Fetcher: p.fetcher,
			RootURL: ctrl.RootURL(),
			Logger:  p.logger.With().Str("version", ctrl.Version()).Logger(),
		})
		p.execFor = ctrl
	}
	return p.executor
}

// newPassthrough builds the reverse proxy used for bypassed and
// uncontrolled requests. Requests for the application host go to the
// origin; bypassed cross-host traffic goes to its original destination.
func newPassthrough(origin *url.URL, publicHost string) http.Handler {
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			if req.URL.Host == "" {
				req.URL.Host = req.Host
			}
			if req.URL.Scheme == "" {
				req.URL.Scheme = "http"
			}
			if hostOnly(req.URL.Host) == hostOnly(publicHost) {
				req.URL.Scheme = origin.Scheme
				req.URL.Host = origin.Host
			}
		},
	}
}

// writeResponse copies a strategy response onto the wire.
func writeResponse(w http.ResponseWriter, resp *http.Response, logger zerolog.Logger) {
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Debug().Err(err).Msg("Client went away while writing response")
	}
}

// hostOnly strips an optional port from a host string.
func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
