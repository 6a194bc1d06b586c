package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models inspectline.yml.
type Config struct {
	Library struct {
		Path string `yaml:"path"`
	} `yaml:"library"`
	Store struct {
		Driver string `yaml:"driver"`
		Mongo  struct {
			URI      string `yaml:"uri"`
			Database string `yaml:"database"`
		} `yaml:"mongo"`
	} `yaml:"store"`
	Cache struct {
		Redis struct {
			Addr     string        `yaml:"addr"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			TTL      time.Duration `yaml:"ttl"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Mapping struct {
		ConfidenceFloor int `yaml:"confidence_floor"`
	} `yaml:"mapping"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Load reads and validates config from workspace. A missing file yields the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Library.Path != "" && !filepath.IsAbs(cfg.Library.Path) && workspace != "" {
		cfg.Library.Path = filepath.Join(workspace, cfg.Library.Path)
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("config.store.mongo.uri is required for the mongo driver")
		}
		if c.Store.Mongo.Database == "" {
			return fmt.Errorf("config.store.mongo.database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("config.store.driver must be 'sqlite' or 'mongo', got %q", c.Store.Driver)
	}
	if c.Cache.Redis.Addr != "" && c.Cache.Redis.TTL <= 0 {
		return fmt.Errorf("config.cache.redis.ttl must be positive")
	}
	if f := c.Mapping.ConfidenceFloor; f < 0 || f > 100 {
		return fmt.Errorf("config.mapping.confidence_floor must be within 0..100, got %d", f)
	}
	switch strings.ToLower(c.Log.Mode) {
	case "dev", "prod":
	default:
		return fmt.Errorf("config.log.mode must be 'dev' or 'prod', got %q", c.Log.Mode)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "inspectline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `library:
  path: ""

store:
  driver: sqlite
  mongo:
    uri: mongodb://localhost:27017
    database: inspectline

cache:
  redis:
    addr: ""
    db: 0
    ttl: 30m

mapping:
  confidence_floor: 60

log:
  mode: dev

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
