// Package config loads the offline proxy's runtime configuration with
// env > file > default precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Config is the effective runtime configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Origin  OriginConfig  `koanf:"origin"`
	Cache   CacheConfig   `koanf:"cache"`
	Redis   RedisConfig   `koanf:"redis"`
	Logging LoggingConfig `koanf:"logging"`
	Push    PushConfig    `koanf:"push"`
}

// ServerConfig describes the listening surface.
type ServerConfig struct {
	// Address is the bind address. Empty means all interfaces.
	Address string `koanf:"address"`

	// Port is the listen port.
	Port int `koanf:"port"`

	// PublicHost is the client-facing host of the application. Requests
	// naming this host are rewritten to the origin.
	PublicHost string `koanf:"publicHost"`
}

// OriginConfig describes the upstream application.
type OriginConfig struct {
	// URL is the upstream origin requests are proxied to.
	URL string `koanf:"url"`

	// BackendHosts is the explicit allowlist of backend API hosts whose
	// traffic must never be intercepted.
	BackendHosts []string `koanf:"backendHosts"`
}

// CacheConfig describes the cache version and its shell.
type CacheConfig struct {
	// Version names the cache partitions. Bumping it is the only way
	// cached content is invalidated.
	Version string `koanf:"version"`

	// ShellManifest lists the application shell paths precached during
	// install. Every path must resolve, or the install fails.
	ShellManifest []string `koanf:"shellManifest"`

	// IconsPrefix marks the path prefix served cache-first.
	IconsPrefix string `koanf:"iconsPrefix"`
}

// RedisConfig describes the cache backend connection.
type RedisConfig struct {
	Address  string `koanf:"address"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// LoggingConfig describes log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `koanf:"pretty"`
}

// PushConfig describes notification defaults.
type PushConfig struct {
	// DefaultTitle fills notifications whose payload omits a title.
	DefaultTitle string `koanf:"defaultTitle"`

	// DefaultIcon fills notifications whose payload omits an icon.
	DefaultIcon string `koanf:"defaultIcon"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:    "",
			Port:       8080,
			PublicHost: "localhost:8080",
		},
		Origin: OriginConfig{
			URL: "http://localhost:3000",
		},
		Cache: CacheConfig{
			Version:       "v1",
			ShellManifest: []string{"/", "/manifest.json"},
			IconsPrefix:   "/icons/",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Push: PushConfig{
			DefaultTitle: "Portal",
			DefaultIcon:  "/icons/icon-192.png",
		},
	}
}

// Validate checks the configuration for values the proxy cannot run with.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Server.PublicHost == "" {
		return fmt.Errorf("config: publicHost must be set")
	}

	u, err := url.Parse(c.Origin.URL)
	if err != nil {
		return fmt.Errorf("config: invalid origin url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: origin url must be http or https, got %q", c.Origin.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("config: origin url has no host: %q", c.Origin.URL)
	}

	if c.Cache.Version == "" {
		return fmt.Errorf("config: cache version must be set")
	}
	if len(c.Cache.ShellManifest) == 0 {
		return fmt.Errorf("config: shellManifest must list at least one path")
	}
	for _, p := range c.Cache.ShellManifest {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("config: shellManifest path %q must start with /", p)
		}
	}

	if c.Redis.Address == "" {
		return fmt.Errorf("config: redis address must be set")
	}
	return nil
}

// OriginURL returns the parsed origin. Call Validate first.
func (c Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin.URL)
	return u
}

// PublicBaseURL returns the client-facing base URL of the application.
func (c Config) PublicBaseURL() *url.URL {
	return &url.URL{Scheme: "http", Host: c.Server.PublicHost}
}

// ListenAddr returns the address:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
