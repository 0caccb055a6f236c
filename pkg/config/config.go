package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config represents the agent configuration
type Config struct {
	Agent   AgentConfig   `env:", prefix=AGENT_"`
	Server  ServerConfig  `env:", prefix=SERVER_"`
	Redis   RedisConfig   `env:", prefix=REDIS_"`
	NATS    NATSConfig    `env:", prefix=NATS_"`
	Logging LoggingConfig `env:", prefix=LOG_"`
}

// AgentConfig holds the scheduler configuration
type AgentConfig struct {
	// SourceURL is the price service base URL (chart data, version token and
	// the push stream all live under it).
	SourceURL string `env:"SOURCE_URL, default=http://localhost:8000"`
	// Version is the running version token; a differing deployed token
	// triggers the update notice.
	Version string `env:"VERSION"`
	// MarginCents is the retailer margin added to spot, in cents/kWh.
	MarginCents float64 `env:"MARGIN_CENTS, default=0.60"`
	// Timezone is the reference zone that defines "today" and "tomorrow".
	Timezone string `env:"TIMEZONE, default=Europe/Helsinki"`
	// DisplayDir is where render surfaces are written; empty disables
	// rendering.
	DisplayDir string `env:"DISPLAY_DIR, default=./display"`
	// ExpectedToday/ExpectedTomorrow are optional date markers supplied by the
	// deploy environment, cross-checked against the reference clock at startup.
	ExpectedToday    string `env:"EXPECTED_TODAY"`
	ExpectedTomorrow string `env:"EXPECTED_TOMORROW"`

	StaleAfter        time.Duration `env:"STALE_AFTER, default=2h"`
	RefreshCooldown   time.Duration `env:"REFRESH_COOLDOWN, default=2s"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL, default=15m"`
	MidnightTick      time.Duration `env:"MIDNIGHT_TICK, default=30s"`
	MidnightStagger   time.Duration `env:"MIDNIGHT_STAGGER, default=500ms"`
	WindowTick        time.Duration `env:"WINDOW_TICK, default=1m"`
	VersionPoll       time.Duration `env:"VERSION_POLL, default=60s"`
	VersionDebounce   time.Duration `env:"VERSION_DEBOUNCE, default=5s"`
	ReconnectWatchdog time.Duration `env:"RECONNECT_WATCHDOG, default=10s"`
	UpdateNoticeDelay time.Duration `env:"UPDATE_NOTICE_DELAY, default=30s"`
}

// ServerConfig holds the status API configuration
type ServerConfig struct {
	Enabled      bool          `env:"ENABLED, default=true"`
	Host         string        `env:"HOST, default=127.0.0.1"`
	Port         int           `env:"PORT, default=8900"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
	CORSEnabled  bool          `env:"CORS_ENABLED, default=false"`
	CORSOrigins  []string      `env:"CORS_ORIGINS, default=*"`
}

// RedisConfig holds the snapshot mirror configuration
type RedisConfig struct {
	Enabled      bool          `env:"ENABLED, default=false"`
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// NATSConfig holds the telemetry bus configuration
type NATSConfig struct {
	Enabled       bool          `env:"ENABLED, default=false"`
	URL           string        `env:"URL, default=nats://localhost:4222"`
	AgentName     string        `env:"AGENT_NAME, default=spot-agent"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=text"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration values
func (c *Config) Validate() error {
	if c.Agent.SourceURL == "" {
		return fmt.Errorf("agent source URL is required")
	}
	if c.Agent.MarginCents < -5 || c.Agent.MarginCents > 5 {
		return fmt.Errorf("margin %.2f c/kWh out of range [-5, 5]", c.Agent.MarginCents)
	}
	if c.Agent.Timezone == "" {
		return fmt.Errorf("agent timezone is required")
	}
	if c.Agent.StaleAfter <= 0 {
		return fmt.Errorf("stale-after must be positive")
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// GetServerAddr returns the status API address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StreamURL returns the push stream endpoint.
func (c *Config) StreamURL() string {
	return c.Agent.SourceURL + "/events/version"
}

// VersionURL returns the version token endpoint.
func (c *Config) VersionURL() string {
	return c.Agent.SourceURL + "/version"
}
