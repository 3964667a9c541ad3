package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env         string `mapstructure:"ENV"`
	Port        string `mapstructure:"PORT"`
	ServiceName string `mapstructure:"SERVICE_NAME"`

	BrokerURL   string `mapstructure:"BROKER_URL"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RPCTimeout               time.Duration `mapstructure:"RPC_TIMEOUT"`
	BrokerHeartbeat          time.Duration `mapstructure:"BROKER_HEARTBEAT"`
	BrokerConnectionTimeout  time.Duration `mapstructure:"BROKER_CONNECTION_TIMEOUT"`
	BrokerRecoveryInterval   time.Duration `mapstructure:"BROKER_RECOVERY_INTERVAL"`
	BrokerRecoveryAttempts   int           `mapstructure:"BROKER_RECOVERY_ATTEMPTS"`
	ConsumerGraceDelay       time.Duration `mapstructure:"CONSUMER_GRACE_DELAY"`
	ConsumerRetryInterval    time.Duration `mapstructure:"CONSUMER_RETRY_INTERVAL"`
	ConsumerRetryMaxInterval time.Duration `mapstructure:"CONSUMER_RETRY_MAX_INTERVAL"`
	ConsumerLivenessInterval time.Duration `mapstructure:"CONSUMER_LIVENESS_INTERVAL"`
	PrefetchCount            int           `mapstructure:"PREFETCH_COUNT"`
	CacheTTL                 time.Duration `mapstructure:"CACHE_TTL"`
}

var keys = []string{
	"ENV",
	"PORT",
	"SERVICE_NAME",
	"BROKER_URL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"RPC_TIMEOUT",
	"BROKER_HEARTBEAT",
	"BROKER_CONNECTION_TIMEOUT",
	"BROKER_RECOVERY_INTERVAL",
	"BROKER_RECOVERY_ATTEMPTS",
	"CONSUMER_GRACE_DELAY",
	"CONSUMER_RETRY_INTERVAL",
	"CONSUMER_RETRY_MAX_INTERVAL",
	"CONSUMER_LIVENESS_INTERVAL",
	"PREFETCH_COUNT",
	"CACHE_TTL",
}

// Load reads configuration from the environment and an optional .env file.
// BROKER_URL may be empty; messaging then runs in no-op mode.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("SERVICE_NAME", "hms")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("RPC_TIMEOUT", "10s")
	v.SetDefault("BROKER_HEARTBEAT", "60s")
	v.SetDefault("BROKER_CONNECTION_TIMEOUT", "30s")
	v.SetDefault("BROKER_RECOVERY_INTERVAL", "10s")
	v.SetDefault("BROKER_RECOVERY_ATTEMPTS", 3)
	v.SetDefault("CONSUMER_GRACE_DELAY", "10s")
	v.SetDefault("CONSUMER_RETRY_INTERVAL", "30s")
	// 0 keeps the retry interval fixed; larger values back off exponentially up to it
	v.SetDefault("CONSUMER_RETRY_MAX_INTERVAL", "0s")
	v.SetDefault("CONSUMER_LIVENESS_INTERVAL", "30s")
	v.SetDefault("PREFETCH_COUNT", 1)
	v.SetDefault("CACHE_TTL", "15m")

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	positive := map[string]time.Duration{
		"RPC_TIMEOUT":                c.RPCTimeout,
		"BROKER_CONNECTION_TIMEOUT":  c.BrokerConnectionTimeout,
		"CONSUMER_RETRY_INTERVAL":    c.ConsumerRetryInterval,
		"CONSUMER_LIVENESS_INTERVAL": c.ConsumerLivenessInterval,
		"CACHE_TTL":                  c.CacheTTL,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.BrokerHeartbeat < 0 || c.BrokerRecoveryInterval < 0 || c.ConsumerGraceDelay < 0 || c.ConsumerRetryMaxInterval < 0 {
		return fmt.Errorf("broker and consumer intervals must not be negative")
	}
	if c.PrefetchCount < 1 {
		return fmt.Errorf("PREFETCH_COUNT must be at least 1, got %d", c.PrefetchCount)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// RequireDatabase fails when no database is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}
