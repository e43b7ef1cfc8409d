// Package config loads and watches the gateway configuration file.
// YAML is the primary format; JSON with comments (.json/.jsonc via hujson)
// is accepted for tooling that emits it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/modelgate/modelgate/internal/json"
)

// Config is the root configuration document.
type Config struct {
	// Port is the HTTP listen port. Default: 8317.
	Port int `yaml:"port" json:"port"`

	// LoggingToFile enables rotated file logging in addition to stderr.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log-level" json:"log-level"`

	// ProxyURL routes all upstream calls through a proxy unless a
	// connection overrides it.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	Usage    Usage    `yaml:"usage" json:"usage"`
	Settings Settings `yaml:"settings" json:"settings"`

	// Connections seeds the credential pool.
	Connections []Connection `yaml:"connections" json:"connections"`

	// ModelRoutes maps client-visible model names to explicit backends.
	ModelRoutes map[string]Route `yaml:"model-routes,omitempty" json:"model-routes,omitempty"`
}

// Usage configures the persistent usage backend.
type Usage struct {
	// DSN selects the store: sqlite://path or postgres://…; empty keeps
	// in-memory counters only.
	DSN           string        `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	BatchSize     int           `yaml:"batch-size,omitempty" json:"batch-size,omitempty"`
	FlushInterval time.Duration `yaml:"flush-interval,omitempty" json:"flush-interval,omitempty"`
	RetentionDays int           `yaml:"retention-days,omitempty" json:"retention-days,omitempty"`
}

// Settings holds pool behavior knobs.
type Settings struct {
	// FallbackStrategy is fill-first or round-robin.
	FallbackStrategy string `yaml:"fallback-strategy,omitempty" json:"fallback-strategy,omitempty"`

	// StickyLimit is how many consecutive calls stay on one connection
	// under round-robin before rotating.
	StickyLimit int `yaml:"sticky-round-robin-limit,omitempty" json:"sticky-round-robin-limit,omitempty"`
}

// Connection is one stored credential bound to a backend.
type Connection struct {
	ID      string `yaml:"id" json:"id"`
	Backend string `yaml:"backend" json:"backend"`
	Label   string `yaml:"label,omitempty" json:"label,omitempty"`

	APIKey       string    `yaml:"api-key,omitempty" json:"api-key,omitempty"`
	AccessToken  string    `yaml:"access-token,omitempty" json:"access-token,omitempty"`
	RefreshToken string    `yaml:"refresh-token,omitempty" json:"refresh-token,omitempty"`
	TokenExpiry  time.Time `yaml:"token-expiry,omitempty" json:"token-expiry,omitempty"`
	ProjectID    string    `yaml:"project-id,omitempty" json:"project-id,omitempty"`

	// Priority orders fill-first selection; lower wins.
	Priority int  `yaml:"priority,omitempty" json:"priority,omitempty"`
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// ProxyURL overrides the global proxy for this credential.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`
}

// Route overrides model-to-backend resolution for one model name.
type Route struct {
	Backend string `yaml:"backend" json:"backend"`
	Model   string `yaml:"model,omitempty" json:"model,omitempty"`
	Format  string `yaml:"format,omitempty" json:"format,omitempty"`
}

const DefaultPort = 8317

func NewDefault() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Settings.FallbackStrategy == "" {
		c.Settings.FallbackStrategy = "fill-first"
	}
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.ID == "" {
			conn.ID = fmt.Sprintf("%s-%d", conn.Backend, i)
		}
		if conn.ProxyURL == "" {
			conn.ProxyURL = c.ProxyURL
		}
	}
}

func (c *Config) validate() error {
	for i, conn := range c.Connections {
		if conn.Backend == "" {
			return fmt.Errorf("connections[%d]: backend is required", i)
		}
		if conn.APIKey == "" && conn.AccessToken == "" && conn.RefreshToken == "" {
			return fmt.Errorf("connections[%d] (%s): no credential material", i, conn.ID)
		}
	}
	switch c.Settings.FallbackStrategy {
	case "", "fill-first", "round-robin":
	default:
		return fmt.Errorf("unknown fallback-strategy %q", c.Settings.FallbackStrategy)
	}
	return nil
}

// Load reads, parses, defaults, and validates the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		standardized, herr := hujson.Standardize(raw)
		if herr != nil {
			return nil, fmt.Errorf("parse %s: %w", path, herr)
		}
		if err := json.Unmarshal(standardized, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional returns defaults when the file does not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return NewDefault(), nil
	}
	return cfg, err
}

// ApplyEnvOverrides lets the environment beat the file for deploy-time
// knobs. Values come from the process environment, .env included when the
// CLI loaded one.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MODELGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Port = port
		}
	}
	if v := os.Getenv("MODELGATE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("MODELGATE_USAGE_DSN"); v != "" {
		c.Usage.DSN = v
	}
	if v := os.Getenv("MODELGATE_PROXY_URL"); v != "" {
		c.ProxyURL = v
	}
}
