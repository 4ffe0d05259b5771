// Package config loads followermaze's runtime configuration from defaults,
// an optional config file, and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the followermaze service.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Admin   AdminConfig   `mapstructure:"admin"`
}

// ServerConfig holds the two raw TCP ports.
type ServerConfig struct {
	EventPort  int `mapstructure:"event_port"`
	ClientPort int `mapstructure:"client_port"`
}

// QueueConfig controls the reorder queue's escape hatches. Zero means unset.
type QueueConfig struct {
	MaxCapacity int           `mapstructure:"max_capacity"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsConfig controls the Prometheus/health HTTP surface.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// AdminConfig controls the token-gated dashboard WebSocket surface.
type AdminConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	TokenSecret         string        `mapstructure:"token_secret"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot_interval"`
}

// Load reads configuration from environment variables and an optional config file.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.event_port", 9090)
	v.SetDefault("server.client_port", 9099)

	v.SetDefault("queue.max_capacity", 0)
	v.SetDefault("queue.timeout", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9091")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.token_secret", "followermaze-dev-secret-change-me")
	v.SetDefault("admin.token_ttl", 10*time.Minute)
	v.SetDefault("admin.snapshot_interval", time.Second)

	v.SetConfigName("followermaze")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("FOLLOWERMAZE")
	v.AutomaticEnv()

	// Optional config file; its absence is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Server.EventPort <= 0 || cfg.Server.ClientPort <= 0 {
		return Config{}, fmt.Errorf("server.event_port and server.client_port must be positive")
	}
	if cfg.Queue.MaxCapacity < 0 {
		cfg.Queue.MaxCapacity = 0
	}
	if cfg.Queue.Timeout < 0 {
		cfg.Queue.Timeout = 0
	}

	return cfg, nil
}
