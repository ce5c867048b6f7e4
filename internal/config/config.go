package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the broker.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains network level settings for the TCP listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	BasePort     int           `mapstructure:"base_port"`
	PortScan     int           `mapstructure:"port_scan_range"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// BrokerConfig controls session and fan-out behavior.
type BrokerConfig struct {
	QueueMaxSize int `mapstructure:"queue_max_size"`
}

// MetricsConfig controls the Prometheus/health HTTP endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and an optional
// config file, applying the broker's built-in defaults first.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.base_port", 9500)
	v.SetDefault("server.port_scan_range", 100)
	v.SetDefault("server.drain_timeout", 2*time.Second)

	v.SetDefault("broker.queue_max_size", 30)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9501")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("psub")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("PSUB")
	v.AutomaticEnv()

	// Config file is optional; absence is not an error.
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Broker.QueueMaxSize <= 0 {
		cfg.Broker.QueueMaxSize = 30
	}
	if cfg.Server.PortScan <= 0 {
		cfg.Server.PortScan = 100
	}

	return cfg, nil
}
