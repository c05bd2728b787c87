// Package lifecycle manages versioned install and activation of the
// offline cache: pre-populating the static partition, purging stale
// partitions, and the hand-off between versions.
package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/portalops/offline-proxy/pkg/store"
	"github.com/portalops/offline-proxy/pkg/strategy"
)

// Prometheus metrics for lifecycle transitions.
var (
	installsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offline_proxy_installs_total",
		Help: "Total install attempts by result",
	}, []string{"result"}) // "success", "failure"

	activationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_proxy_activations_total",
		Help: "Total completed activations",
	})

	shellAssetsPrecached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offline_proxy_shell_assets_precached_total",
		Help: "Total shell assets stored during install",
	})
)

// State is the lifecycle state of a cache version.
type State string

const (
	// StateNew means the version has not started installing.
	StateNew State = "new"

	// StateInstalling means the static partition is being populated.
	StateInstalling State = "installing"

	// StateInstalled means the shell is fully precached and the version
	// is ready to activate.
	StateInstalled State = "installed"

	// StateActivating means stale partitions are being purged.
	StateActivating State = "activating"

	// StateActive means the version is serving intercepted requests.
	StateActive State = "active"

	// StateSuperseded means a newer version has taken over.
	StateSuperseded State = "superseded"
)

// ControllerConfig holds the inputs for one cache version.
type ControllerConfig struct {
	// Version tags the partitions. Bumping it is the only supported way
	// to invalidate previously cached data.
	Version string

	// PublicBaseURL is the client-facing base URL of the application.
	// Manifest paths resolve against it, so installed entries carry the
	// same signatures runtime lookups will compute.
	PublicBaseURL *url.URL

	// ShellManifest lists the shell asset paths precached at install
	// time: root document, web-app manifest, icons, logo.
	ShellManifest []string

	// Store is the partition manager.
	Store *store.Manager

	// Fetcher performs the install-time fetches.
	Fetcher strategy.Fetcher

	// Logger for lifecycle events.
	Logger zerolog.Logger

	// MaxConcurrency bounds parallel shell fetches during install.
	MaxConcurrency int
}

// Controller drives one cache version through the lifecycle state
// machine: installing, installed, activating, active, superseded.
type Controller struct {
	cfg     ControllerConfig
	logger  zerolog.Logger
	mu      sync.Mutex
	state   State
	static  *store.Handle
	dynamic *store.Handle
}

// NewController creates a controller for a version in StateNew.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	if cfg.PublicBaseURL == nil {
		return nil, fmt.Errorf("public base URL is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store manager is required")
	}
	if cfg.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}

	logger := cfg.Logger.With().Str("version", cfg.Version).Logger()
	return &Controller{
		cfg:    cfg,
		logger: logger,
		state:  StateNew,
	}, nil
}

// Version returns the version tag.
func (c *Controller) Version() string {
	return c.cfg.Version
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Static returns the static partition handle, nil before install.
func (c *Controller) Static() *store.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.static
}

// Dynamic returns the dynamic partition handle, nil before install.
func (c *Controller) Dynamic() *store.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dynamic
}

// RootURL returns the absolute URL of the root document.
func (c *Controller) RootURL() string {
	return c.resolve("/")
}

// Install opens this version's partitions and populates the static one
// with every shell asset. Install is all-or-nothing: any asset failing
// to fetch or store discards the version, dropping whatever was already
// written, and the previous version stays active.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition(StateNew, StateInstalling); err != nil {
		return err
	}

	c.logger.Info().
		Int("assets", len(c.cfg.ShellManifest)).
		Msg("Installing new cache version")

	static, err := c.cfg.Store.Open(ctx, store.StaticPartition(c.cfg.Version))
	if err != nil {
		return c.failInstall(ctx, fmt.Errorf("open static partition: %w", err))
	}
	dynamic, err := c.cfg.Store.Open(ctx, store.DynamicPartition(c.cfg.Version))
	if err != nil {
		return c.failInstall(ctx, fmt.Errorf("open dynamic partition: %w", err))
	}

	if err := c.precacheShell(ctx, static); err != nil {
		return c.failInstall(ctx, err)
	}

	c.mu.Lock()
	c.static = static
	c.dynamic = dynamic
	c.state = StateInstalled
	c.mu.Unlock()

	installsTotal.WithLabelValues("success").Inc()
	c.logger.Info().Msg("Install complete")
	return nil
}

// Activate purges every partition from other versions, then marks this
// version active. Cleanup strictly precedes claiming so no request can
// be served from a to-be-deleted partition.
func (c *Controller) Activate(ctx context.Context) error {
	if err := c.transition(StateInstalled, StateActivating); err != nil {
		return err
	}

	names, err := c.cfg.Store.Partitions(ctx)
	if err != nil {
		c.setState(StateInstalled)
		return fmt.Errorf("enumerate partitions: %w", err)
	}

	for _, name := range names {
		if store.PartitionVersion(name) == c.cfg.Version {
			continue
		}
		c.logger.Info().Str("partition", name).Msg("Purging stale partition")
		if err := c.cfg.Store.Drop(ctx, name); err != nil {
			c.setState(StateInstalled)
			return fmt.Errorf("drop stale partition %q: %w", name, err)
		}
	}

	c.setState(StateActive)
	activationsTotal.Inc()
	c.logger.Info().Msg("Activation complete")
	return nil
}

// Supersede marks this version as replaced by a newer one.
func (c *Controller) Supersede() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateActive {
		c.state = StateSuperseded
		c.logger.Info().Msg("Version superseded")
	}
}

// failInstall discards a partially installed version.
func (c *Controller) failInstall(ctx context.Context, cause error) error {
	// Best effort: a partially populated partition must not survive.
	if err := c.cfg.Store.Drop(ctx, store.StaticPartition(c.cfg.Version)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to drop partial static partition")
	}
	if err := c.cfg.Store.Drop(ctx, store.DynamicPartition(c.cfg.Version)); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to drop dynamic partition")
	}

	c.setState(StateNew)
	installsTotal.WithLabelValues("failure").Inc()
	c.logger.Error().Err(cause).Msg("Install failed, version discarded")
	return fmt.Errorf("install %s: %w", c.cfg.Version, cause)
}

func (c *Controller) transition(from, to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return fmt.Errorf("invalid transition to %s: state is %s, want %s", to, c.state, from)
	}
	c.state = to
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// resolve turns a manifest path into the client-facing absolute URL.
func (c *Controller) resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	ref := &url.URL{Path: path}
	return c.cfg.PublicBaseURL.ResolveReference(ref).String()
}
