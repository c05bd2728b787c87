// Command offline-proxy runs the offline caching proxy in front of a
// web application origin: it precaches the application shell, serves
// intercepted requests per their caching strategy, and keeps the
// application usable while the origin is unreachable.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/portalops/offline-proxy/internal/config"
	"github.com/portalops/offline-proxy/pkg/classify"
	"github.com/portalops/offline-proxy/pkg/lifecycle"
	"github.com/portalops/offline-proxy/pkg/logging"
	"github.com/portalops/offline-proxy/pkg/proxy"
	"github.com/portalops/offline-proxy/pkg/push"
	"github.com/portalops/offline-proxy/pkg/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "offline-proxy: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader("OFFLINE_PROXY", *configFile).Load(ctx)
	if err != nil {
		return err
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Address, err)
	}
	logger.Info().Str("addr", cfg.Redis.Address).Msg("Connected to Redis")

	app, err := buildApp(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr(),
		Handler: newRouter(app),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("version", cfg.Cache.Version).
			Str("origin", cfg.Origin.URL).
			Msg("Starting offline proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// app bundles the wired components the router serves.
type app struct {
	proxy *proxy.Proxy
	hub   *push.Hub
}

// buildApp wires the cache stack and installs the configured version.
func buildApp(ctx context.Context, cfg config.Config, redisClient *redis.Client, logger zerolog.Logger) (*app, error) {
	manager := store.NewManager(redisClient)
	upstream := proxy.NewUpstream(cfg.OriginURL(), cfg.Server.PublicHost)

	sup := lifecycle.NewSupervisor(logger)
	ctrl, err := lifecycle.NewController(lifecycle.ControllerConfig{
		Version:       cfg.Cache.Version,
		PublicBaseURL: cfg.PublicBaseURL(),
		ShellManifest: cfg.Cache.ShellManifest,
		Store:         manager,
		Fetcher:       upstream,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	if err := sup.Register(ctx, ctrl); err != nil {
		return nil, fmt.Errorf("install version %s: %w", cfg.Cache.Version, err)
	}

	classifyCfg := classify.DefaultConfig(cfg.Server.PublicHost)
	classifyCfg.BackendHosts = cfg.Origin.BackendHosts
	if cfg.Cache.IconsPrefix != "" {
		classifyCfg.IconsPrefix = cfg.Cache.IconsPrefix
	}

	p := proxy.New(proxy.Config{
		Classifier: classify.New(classifyCfg),
		Supervisor: sup,
		Fetcher:    upstream,
		Origin:     cfg.OriginURL(),
		PublicHost: cfg.Server.PublicHost,
		Logger:     logger,
	})

	hub := push.NewHub(cfg.Push.DefaultTitle, cfg.Push.DefaultIcon, logger)

	return &app{proxy: p, hub: hub}, nil
}

// newRouter mounts the operational endpoints and the catch-all proxy.
func newRouter(a *app) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Handle("/control", a.proxy.ControlHandler())
	r.Handle("/subscribe", a.hub.SubscribeHandler())
	r.Handle("/push", a.hub.PushHandler())
	r.Handle("/notifications", a.hub.NotificationsHandler())

	r.Handle("/*", a.proxy)

	return r
}
