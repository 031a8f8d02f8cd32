// Package config loads broker configuration from an optional YAML file
// layered under environment variable overrides, following the same
// env-over-default precedence the original config used, extended with
// a file layer (SPEC_FULL.md §4.12).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config lists the tunable parameters for the broker.
type Config struct {
	TCPBindAddress       string        `yaml:"tcp_bind_address"`
	WebSocketBindAddress string        `yaml:"websocket_bind_address"`
	MetricsBindAddress   string        `yaml:"metrics_bind_address"`
	DatabasePath         string        `yaml:"database_path"`
	LogLevel             string        `yaml:"log_level"`
	KeepAliveFallback    time.Duration `yaml:"keep_alive_fallback"`
	MDNSEnabled          bool          `yaml:"mdns_enabled"`
	MDNSServiceName      string        `yaml:"mdns_service_name"`
}

const (
	defaultTCPBindAddress       = "127.0.0.1:1883"
	defaultWebSocketBindAddress = "127.0.0.1:1884"
	defaultMetricsBindAddress   = "127.0.0.1:9464"
	defaultDatabasePath         = "data/mqttd-audit.db"
	defaultLogLevel             = "info"
	defaultKeepAliveFallback    = 60 * time.Second
	defaultMDNSServiceName      = "mqttd"
)

func defaults() Config {
	return Config{
		TCPBindAddress:       defaultTCPBindAddress,
		WebSocketBindAddress: defaultWebSocketBindAddress,
		MetricsBindAddress:   defaultMetricsBindAddress,
		DatabasePath:         defaultDatabasePath,
		LogLevel:             defaultLogLevel,
		KeepAliveFallback:    defaultKeepAliveFallback,
		MDNSEnabled:          true,
		MDNSServiceName:      defaultMDNSServiceName,
	}
}

// Load derives configuration from, in increasing precedence: built-in
// defaults, an optional YAML file named by MQTTD_CONFIG_FILE, and
// environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("MQTTD_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("MQTTD_TCP_BIND"); v != "" {
		cfg.TCPBindAddress = v
	}
	if v := os.Getenv("MQTTD_WEBSOCKET_BIND"); v != "" {
		cfg.WebSocketBindAddress = v
	}
	if v := os.Getenv("MQTTD_METRICS_BIND"); v != "" {
		cfg.MetricsBindAddress = v
	}
	if v := os.Getenv("MQTTD_DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("MQTTD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MQTTD_KEEP_ALIVE_FALLBACK_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MQTTD_KEEP_ALIVE_FALLBACK_SECONDS: %w", err)
		}
		cfg.KeepAliveFallback = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("MQTTD_MDNS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MQTTD_MDNS_ENABLED: %w", err)
		}
		cfg.MDNSEnabled = enabled
	}
	if v := os.Getenv("MQTTD_MDNS_SERVICE_NAME"); v != "" {
		cfg.MDNSServiceName = v
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
