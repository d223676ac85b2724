// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/relay-proxy/config.toml",
	"/etc/relay-proxy/config.yaml",
	"configs/config.toml",
	"configs/config.yaml",
}

// CLI holds command-line arguments parsed by Kong. Every flag can also come
// from the environment, so the proxy runs unconfigured with just defaults.
type CLI struct {
	Config         string `kong:"short='c',help='Path to config file (TOML or YAML).',env='CONFIG_PATH'"`
	ProxyHost      string `kong:"help='Proxy listen host (overrides config).',env='PROXY_HOST'"`
	ProxyPort      int    `kong:"help='Proxy listen port (overrides config).',env='PROXY_PORT'"`
	APIHost        string `kong:"help='Control API listen host (overrides config).',env='API_HOST'"`
	APIPort        int    `kong:"help='Control API listen port (overrides config).',env='API_PORT'"`
	TargetURL      string `kong:"help='Upstream origin requests are forwarded to (overrides config).',env='TARGET_URL'"`
	MaxConnections int    `kong:"help='Upstream connection pool size (overrides config).',env='MAX_CONNECTIONS'"`
	LogLevel       string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Proxy    ProxyConfig    `toml:"proxy" yaml:"proxy"`
	API      APIConfig      `toml:"api" yaml:"api"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`
	Watch    WatchConfig    `toml:"watch" yaml:"watch"`

	filePath string // resolved config file path (unexported)
}

// ProxyConfig holds the raw data-path listener settings.
type ProxyConfig struct {
	Host               string `toml:"host" yaml:"host"`
	Port               int    `toml:"port" yaml:"port"` // 0 means "use default" (8080); TOML cannot distinguish 0 from unset
	ReadTimeoutSeconds int    `toml:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	MaxBodyBytes       int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`
	MaxInflight        int    `toml:"max_inflight" yaml:"max_inflight"`
}

// APIConfig holds the control API server settings.
type APIConfig struct {
	Host      string          `toml:"host" yaml:"host"`
	Port      int             `toml:"port" yaml:"port"`
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting on the control API.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TargetURL      string `toml:"target_url" yaml:"target_url"`
	MaxConnections int    `toml:"max_connections" yaml:"max_connections"`
	TimeoutSeconds int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// LogConfig holds logging settings. When File is set, output rotates there
// instead of going to stdout.
type LogConfig struct {
	Level      string `toml:"level" yaml:"level"`
	Format     string `toml:"format" yaml:"format"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// WatchConfig controls hot reloading of the config file.
type WatchConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// Load reads the config file, if any, and applies CLI overrides. When no
// explicit path is given (via --config or CONFIG_PATH), the search paths are
// tried in order; finding none is fine because every setting has a default.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := unmarshal(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// unmarshal picks the codec by file extension: .yaml/.yml parse as YAML,
// everything else as TOML.
func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return toml.Unmarshal(data, cfg)
	}
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.ProxyHost != "" {
		c.Proxy.Host = cli.ProxyHost
	}
	if cli.ProxyPort != 0 {
		c.Proxy.Port = cli.ProxyPort
	}
	if cli.APIHost != "" {
		c.API.Host = cli.APIHost
	}
	if cli.APIPort != 0 {
		c.API.Port = cli.APIPort
	}
	if cli.TargetURL != "" {
		c.Upstream.TargetURL = cli.TargetURL
	}
	if cli.MaxConnections != 0 {
		c.Upstream.MaxConnections = cli.MaxConnections
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Target URL: optional here (the default fills in later), but when set
	// it must be a usable origin.
	if c.Upstream.TargetURL != "" {
		if err := ValidateTargetURL(c.Upstream.TargetURL); err != nil {
			return fmt.Errorf("upstream.target_url: %w", err)
		}
	}

	// Numeric bounds.
	if c.Proxy.Port < 0 || c.Proxy.Port > 65535 {
		return fmt.Errorf("proxy.port must be 0-65535; got %d", c.Proxy.Port)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be 0-65535; got %d", c.API.Port)
	}
	if c.Proxy.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("proxy.read_timeout_seconds must be non-negative; got %d", c.Proxy.ReadTimeoutSeconds)
	}
	if c.Proxy.MaxBodyBytes < 0 {
		return fmt.Errorf("proxy.max_body_bytes must be non-negative; got %d", c.Proxy.MaxBodyBytes)
	}
	if c.Proxy.MaxInflight < 0 {
		return fmt.Errorf("proxy.max_inflight must be non-negative; got %d", c.Proxy.MaxInflight)
	}
	if c.Upstream.MaxConnections < 0 {
		return fmt.Errorf("upstream.max_connections must be non-negative; got %d", c.Upstream.MaxConnections)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.API.RateLimit.Enabled && c.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.API.RateLimit.RequestsPerSecond)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation settings must be non-negative")
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/health", "/stats", "/config", "/reset-stats"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// ValidateTargetURL checks that raw is an absolute http or https URL with a
// host. The control API applies the same rule to runtime updates.
func ValidateTargetURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https; got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (ports, timeouts, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Proxy.Host == "" {
		c.Proxy.Host = "0.0.0.0"
	}
	if c.Proxy.Port == 0 {
		c.Proxy.Port = 8080
	}
	if c.Proxy.ReadTimeoutSeconds == 0 {
		c.Proxy.ReadTimeoutSeconds = 10
	}
	if c.Proxy.MaxBodyBytes == 0 {
		c.Proxy.MaxBodyBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.MaxInflight == 0 {
		c.Proxy.MaxInflight = 512
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 9000
	}
	if c.Upstream.TargetURL == "" {
		c.Upstream.TargetURL = "http://localhost:8000"
	}
	if c.Upstream.MaxConnections == 0 {
		c.Upstream.MaxConnections = 100
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 7
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Path returns the resolved config file path, or empty when the process runs
// on defaults and overrides alone.
func (c *Config) Path() string {
	return c.filePath
}

// Addr returns the proxy listen address as host:port.
func (c *ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the control API listen address as host:port.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
