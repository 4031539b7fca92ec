// Package config provides centralized configuration management for bluetrap.
// Values are layered by viper: built-in defaults (SetDefaults), an optional
// YAML config file, BLUETRAP_* environment variables and CLI flags. Load
// decodes the merged view into a typed Config and validates it.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppName is the binary, config directory and data directory name.
const AppName = "bluetrap"

// EnvPrefix is the prefix for environment overrides (BLUETRAP_SERVER_PORT, ...).
const EnvPrefix = "BLUETRAP"

// DefaultAgentKey is the development credential accepted when none is configured.
const DefaultAgentKey = "my_secret_agent_pass_123"

// DefaultCORSOrigins are the local dashboard dev servers.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:3006",
}

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every configuration key with its default value.
// Keys must be registered for AutomaticEnv overrides to reach Load.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.cors_origins", DefaultCORSOrigins)
	v.SetDefault("server.admin_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.redis.url", "")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.max_retries", 3)
	v.SetDefault("store.redis.dial_timeout", "2s")
	v.SetDefault("store.redis.pool_size", 0)
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.op_timeout", "250ms")
	v.SetDefault("store.reconnect_max_backoff", "2s")

	// Defense defaults
	v.SetDefault("defense.agent_key", DefaultAgentKey)
	v.SetDefault("defense.speed_trap_threshold", "500ms")
	v.SetDefault("defense.skip_paths", []string{
		"/stats", "/maze", "/generate-key", "/verify-wallet",
		"/api/email-wallet", "/health", "/version", "/metrics",
	})
	v.SetDefault("defense.require_auth", false)

	// Maze defaults
	v.SetDefault("maze.max_levels", 50)
	v.SetDefault("maze.max_requests_per_second", 10)
	v.SetDefault("maze.rate_window", "1s")
	v.SetDefault("maze.tarpit_delay", "2s")
	v.SetDefault("maze.active_window", "30s")

	// Janitor defaults
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.interval", "60s")
	v.SetDefault("janitor.visit_ttl", "1h")
	v.SetDefault("janitor.trap_idle", "5m")
	v.SetDefault("janitor.rate_idle", "60s")

	// Key issuance defaults
	v.SetDefault("keys.rate_per_minute", 10)
	v.SetDefault("keys.burst", 3)
	v.SetDefault("keys.length", 32)

	v.SetDefault("protected.profile_path", "")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)
}

// Load decodes the merged viper view into a Config and validates it.
// This function is safe to call multiple times (e.g., for config reload).
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Defense.SkipPaths = trimAll(c.Defense.SkipPaths)
	c.Server.TrustedProxies = trimAll(c.Server.TrustedProxies)
	c.Server.CORSOrigins = trimAll(c.Server.CORSOrigins)
}

// Validate reports configuration that cannot be served.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	for _, proxy := range c.Server.TrustedProxies {
		if _, err := netip.ParsePrefix(proxy); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(proxy); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: invalid address or CIDR %q", proxy))
		}
	}

	for _, origin := range c.Server.CORSOrigins {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
			errs = append(errs, fmt.Errorf("server.cors_origins: invalid origin %q", origin))
		}
	}

	switch c.Store.Driver {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Store.Redis.URL) == "" && strings.TrimSpace(c.Store.Redis.Addr) == "" {
			errs = append(errs, errors.New("store.redis.url or store.redis.addr is required for the redis driver"))
		}
	case "libsql", "sqlite":
		if strings.TrimSpace(c.Store.URL) == "" && strings.TrimSpace(c.Store.Path) == "" {
			errs = append(errs, fmt.Errorf("store.path or store.url is required for the %s driver", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store.driver: %q", c.Store.Driver))
	}

	if c.Defense.RequireAuth && strings.TrimSpace(c.Defense.AgentKey) == "" {
		errs = append(errs, errors.New("defense.agent_key is required when defense.require_auth is set"))
	}
	if c.Defense.SpeedTrapThreshold < 0 {
		errs = append(errs, errors.New("defense.speed_trap_threshold must not be negative"))
	}

	if c.Maze.MaxLevels < 1 {
		errs = append(errs, fmt.Errorf("maze.max_levels must be at least 1: %d", c.Maze.MaxLevels))
	}
	if c.Maze.MaxRequestsPerSecond < 1 {
		errs = append(errs, fmt.Errorf("maze.max_requests_per_second must be at least 1: %d", c.Maze.MaxRequestsPerSecond))
	}
	if c.Maze.TarpitDelay < 0 {
		errs = append(errs, errors.New("maze.tarpit_delay must not be negative"))
	}

	if c.Janitor.Enabled && c.Janitor.Interval <= 0 {
		errs = append(errs, errors.New("janitor.interval must be positive"))
	}

	if c.Keys.Length < 16 {
		errs = append(errs, fmt.Errorf("keys.length must be at least 16: %d", c.Keys.Length))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigDir returns the XDG-compliant config directory.
func DefaultConfigDir() string {
	return gfconfig.GetAppConfigDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the SQL store file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
