package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting
// env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a loader. Files are optional; a named file that
// does not exist is an error.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective configuration snapshot.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.publichost":   "server.publicHost",
			"origin.backendhosts": "origin.backendHosts",
			"cache.shellmanifest": "cache.shellManifest",
			"cache.iconsprefix":   "cache.iconsPrefix",
			"push.defaulttitle":   "push.defaultTitle",
			"push.defaulticon":    "push.defaultIcon",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path
			// (SERVER__PUBLIC_HOST -> server.publichost).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			return lower
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"address":    cfg.Server.Address,
			"port":       cfg.Server.Port,
			"publicHost": cfg.Server.PublicHost,
		},
		"origin": map[string]any{
			"url":          cfg.Origin.URL,
			"backendHosts": cfg.Origin.BackendHosts,
		},
		"cache": map[string]any{
			"version":       cfg.Cache.Version,
			"shellManifest": cfg.Cache.ShellManifest,
			"iconsPrefix":   cfg.Cache.IconsPrefix,
		},
		"redis": map[string]any{
			"address":  cfg.Redis.Address,
			"username": cfg.Redis.Username,
			"password": cfg.Redis.Password,
			"db":       cfg.Redis.DB,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"pretty": cfg.Logging.Pretty,
		},
		"push": map[string]any{
			"defaultTitle": cfg.Push.DefaultTitle,
			"defaultIcon":  cfg.Push.DefaultIcon,
		},
	}
}
