/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables,
// optionally overlaid by a YAML file named by MIMIR_CONFIG.
type Config struct {
	Environment string `yaml:"environment"`
	HTTPBind    string `yaml:"http_bind"`
	HTTPPort    int    `yaml:"http_port"`
	BaseURL     string `yaml:"base_url"` // Public base URL (e.g., http://radio.example.com)

	DBBackend DatabaseBackend `yaml:"db_backend"`
	DBDSN     string          `yaml:"db_dsn"`

	// Redis backs the station locks, the nowplaying cache, and the delayed
	// dispatch queue. When unreachable all three degrade to in-process mode.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Sweep loop
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// Shared secret for the internal feedback route (streaming process callbacks).
	InternalToken string `yaml:"internal_token"`

	MetricsBind string `yaml:"metrics_bind"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       getEnv("MIMIR_ENV", "development"),
		HTTPBind:          getEnv("MIMIR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:          getEnvInt("MIMIR_HTTP_PORT", 8090),
		BaseURL:           getEnv("MIMIR_BASE_URL", ""),
		DBBackend:         DatabaseBackend(getEnv("MIMIR_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:             getEnv("MIMIR_DB_DSN", ""),
		RedisAddr:         getEnv("MIMIR_REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("MIMIR_REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("MIMIR_REDIS_DB", 0),
		SweepInterval:     time.Duration(getEnvInt("MIMIR_SWEEP_INTERVAL_SECONDS", 15)) * time.Second,
		InternalToken:     getEnv("MIMIR_INTERNAL_TOKEN", ""),
		MetricsBind:       getEnv("MIMIR_METRICS_BIND", "127.0.0.1:9100"),
		TracingEnabled:    getEnvBool("MIMIR_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("MIMIR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("MIMIR_TRACING_SAMPLE_RATE", 1.0),
	}

	if path := getEnv("MIMIR_CONFIG", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyFile overlays values from a YAML config file on top of the env values.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unknown database backend: %s", c.DBBackend)
	}

	if c.DBDSN == "" {
		return fmt.Errorf("MIMIR_DB_DSN is required")
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval must be at least 1s, got %s", c.SweepInterval)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}
