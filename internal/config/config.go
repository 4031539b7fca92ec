package config

import (
	"time"
)

// Config represents the complete application configuration.
// Values are layered: built-in defaults, optional YAML config file,
// then BLUETRAP_* environment variables and CLI flags.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Defense   DefenseConfig   `mapstructure:"defense"`
	Maze      MazeConfig      `mapstructure:"maze"`
	Janitor   JanitorConfig   `mapstructure:"janitor"`
	Keys      KeysConfig      `mapstructure:"keys"`
	Protected ProtectedConfig `mapstructure:"protected"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies lists peer IPs or CIDRs whose X-Forwarded-For / X-Real-IP
	// headers are honoured when resolving the client identity.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// CORSOrigins are the browser origins allowed to call the API (the trap
	// dashboard). An empty list disables CORS handling.
	CORSOrigins []string `mapstructure:"cors_origins"`

	// AdminToken enables POST /admin/signal (bearer auth) when set.
	AdminToken string `mapstructure:"admin_token"`
}

// StoreConfig selects and configures the durable state backend.
//
// Driver is one of: redis, libsql, sqlite, memory. With memory there is no
// durable backend and the store permanently reports fallback mode.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`

	Redis RedisConfig `mapstructure:"redis"`

	// SQL backends (libsql, sqlite)
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`

	// OpTimeout bounds every durable call, including client retries.
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// ReconnectMaxBackoff caps the delay between reconnect probes while in fallback mode.
	ReconnectMaxBackoff time.Duration `mapstructure:"reconnect_max_backoff"`
}

// RedisConfig contains connection settings for the redis driver.
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MaxRetries  int           `mapstructure:"max_retries"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// DefenseConfig configures the credential gate and speed trap.
type DefenseConfig struct {
	AgentKey           string        `mapstructure:"agent_key"`
	SpeedTrapThreshold time.Duration `mapstructure:"speed_trap_threshold"`
	SkipPaths          []string      `mapstructure:"skip_paths"`

	// RequireAuth rejects unauthenticated callers that pass the speed trap with 401.
	RequireAuth bool `mapstructure:"require_auth"`
}

// MazeConfig configures the maze guard limits and tarpit.
type MazeConfig struct {
	MaxLevels            int           `mapstructure:"max_levels"`
	MaxRequestsPerSecond int           `mapstructure:"max_requests_per_second"`
	RateWindow           time.Duration `mapstructure:"rate_window"`
	TarpitDelay          time.Duration `mapstructure:"tarpit_delay"`
	ActiveWindow         time.Duration `mapstructure:"active_window"`
}

// JanitorConfig configures the periodic state sweep.
type JanitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	VisitTTL time.Duration `mapstructure:"visit_ttl"`
	TrapIdle time.Duration `mapstructure:"trap_idle"`
	RateIdle time.Duration `mapstructure:"rate_idle"`
}

// KeysConfig configures agent key issuance.
type KeysConfig struct {
	RatePerMinute int `mapstructure:"rate_per_minute"`
	Burst         int `mapstructure:"burst"`
	Length        int `mapstructure:"length"`
}

// ProtectedConfig configures the protected /me resource.
type ProtectedConfig struct {
	// ProfilePath optionally points at a JSON document served as the profile.
	ProfilePath string `mapstructure:"profile_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level (simple, structured)
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format).
	// The main HTTP server proxies it at /metrics.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
