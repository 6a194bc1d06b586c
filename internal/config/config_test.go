package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Mapping.ConfidenceFloor != 60 || cfg.Server.BasePath != "/v0" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Cache.Redis.TTL != 30*time.Minute {
		t.Fatalf("ttl = %v", cfg.Cache.Redis.TTL)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("mapping:\n  confidence_floor: 75\nlog:\n  mode: prod\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Mapping.ConfidenceFloor != 75 || cfg.Log.Mode != "prod" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("defaults lost: %+v", cfg.Server)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"driver", "store:\n  driver: postgres\n", "store.driver"},
		{"mongo uri", "store:\n  driver: mongo\n  mongo:\n    uri: \"\"\n", "mongo.uri"},
		{"floor", "mapping:\n  confidence_floor: 120\n", "confidence_floor"},
		{"log mode", "log:\n  mode: loud\n", "log.mode"},
		{"ttl", "cache:\n  redis:\n    addr: localhost:6379\n    ttl: 0s\n", "ttl"},
		{"base path", "server:\n  base_path: v0\n", "base_path"},
		{"unknown key", "stores:\n  driver: sqlite\n", "invalid config yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != DriverSQLite {
		t.Fatalf("driver = %s", cfg.Store.Driver)
	}
}

func TestLoadResolvesLibraryPath(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(Path(dir), []byte("library:\n  path: lib/questions.yml\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Library.Path != filepath.Join(dir, "lib/questions.yml") {
		t.Fatalf("library path = %s", cfg.Library.Path)
	}
}
