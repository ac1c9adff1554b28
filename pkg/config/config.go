// Package config loads process bootstrap settings: listen address, log
// level, database DSN, Redis address, and exchange gateway credentials.
// Everything downstream of boot (risk thresholds, sizing curves, regime
// windows) lives in pkg/types' Default*Config functions instead, since
// those are tuned trading parameters rather than deployment settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level process configuration, populated from a config
// file (if present), environment variables (TRADING_CORE_* or section-
// specific overrides), and finally defaults.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
}

// ServerConfig configures the internal HTTP + WebSocket surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig configures the gorm/mysql connection pool.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig configures the Risk Throttle's TTL cache backstop.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GatewayConfig configures the exchange REST client.
type GatewayConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	AccessKey         string  `mapstructure:"access_key"`
	SecretKey         string  `mapstructure:"secret_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Load reads configPath (if non-empty) plus TRADING_CORE_-prefixed
// environment variables, falling back to defaults, and returns a
// validated Config. AccessKey/SecretKey and the DSN are also taken from
// the unprefixed EXCHANGE_ACCESS_KEY/EXCHANGE_SECRET_KEY/DATABASE_DSN
// environment variables when set, overriding any config-file value, so
// they never need to touch a config file on disk.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRADING_CORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if accessKey := os.Getenv("EXCHANGE_ACCESS_KEY"); accessKey != "" {
		cfg.Gateway.AccessKey = accessKey
	}
	if secretKey := os.Getenv("EXCHANGE_SECRET_KEY"); secretKey != "" {
		cfg.Gateway.SecretKey = secretKey
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("gateway.requests_per_second", 8.0)
	v.SetDefault("gateway.burst", 4)
}

// Validate checks that the settings needed to dial out are present.
// Trading-parameter validation (sizing curves, risk thresholds) belongs
// to the pkg/types Default*Config callers, not this loader.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn (or DATABASE_DSN) is required")
	}
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("config: gateway.base_url is required")
	}
	if c.Gateway.AccessKey == "" || c.Gateway.SecretKey == "" {
		return fmt.Errorf("config: EXCHANGE_ACCESS_KEY and EXCHANGE_SECRET_KEY must be set")
	}
	return nil
}
