package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "offline-proxy.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader("OFFLINE_PROXY").Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port: got %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cache.Version != "v1" {
		t.Errorf("Version: got %q, want v1", cfg.Cache.Version)
	}
	if cfg.Redis.Address != "localhost:6379" {
		t.Errorf("Redis address: got %q", cfg.Redis.Address)
	}
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9090
  publicHost: portal.example.com
cache:
  version: v42
  shellManifest:
    - /
    - /manifest.json
    - /icons/icon-192.png
origin:
  url: http://app:3000
  backendHosts:
    - api.example.com
    - auth.example.com
`)

	cfg, err := NewLoader("OFFLINE_PROXY", path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port: got %d, want 9090", cfg.Server.Port)
	}
	if cfg.Cache.Version != "v42" {
		t.Errorf("Version: got %q, want v42", cfg.Cache.Version)
	}
	if len(cfg.Cache.ShellManifest) != 3 {
		t.Errorf("ShellManifest: got %v", cfg.Cache.ShellManifest)
	}
	if len(cfg.Origin.BackendHosts) != 2 {
		t.Errorf("BackendHosts: got %v", cfg.Origin.BackendHosts)
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9090\n")
	t.Setenv("OFFLINE_PROXY_SERVER__PORT", "9091")
	t.Setenv("OFFLINE_PROXY_CACHE__VERSION", "v7")

	cfg, err := NewLoader("OFFLINE_PROXY", path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9091 {
		t.Errorf("Port: got %d, want 9091 (env wins)", cfg.Server.Port)
	}
	if cfg.Cache.Version != "v7" {
		t.Errorf("Version: got %q, want v7", cfg.Cache.Version)
	}
}

func TestLoader_EnvCamelCaseKeys(t *testing.T) {
	t.Setenv("OFFLINE_PROXY_SERVER__PUBLIC_HOST", "portal.example.com")

	cfg, err := NewLoader("OFFLINE_PROXY").Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.PublicHost != "portal.example.com" {
		t.Errorf("PublicHost: got %q", cfg.Server.PublicHost)
	}
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader("OFFLINE_PROXY", "/does/not/exist.yaml").Load(context.Background())
	if err == nil {
		t.Error("Load with a missing file should fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"defaults are valid", func(cfg *Config) {}, false},
		{"zero port", func(cfg *Config) { cfg.Server.Port = 0 }, true},
		{"empty public host", func(cfg *Config) { cfg.Server.PublicHost = "" }, true},
		{"bad origin scheme", func(cfg *Config) { cfg.Origin.URL = "ftp://app:21" }, true},
		{"origin without host", func(cfg *Config) { cfg.Origin.URL = "http://" }, true},
		{"empty version", func(cfg *Config) { cfg.Cache.Version = "" }, true},
		{"empty manifest", func(cfg *Config) { cfg.Cache.ShellManifest = nil }, true},
		{"relative manifest path", func(cfg *Config) { cfg.Cache.ShellManifest = []string{"index.html"} }, true},
		{"empty redis address", func(cfg *Config) { cfg.Redis.Address = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
