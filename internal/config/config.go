// Package config loads client configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds client configuration
type Config struct {
	// Authority
	ServerURL   string `yaml:"server_url"`
	Environment string `yaml:"environment"`

	// Backup storage: memory, redis or postgres
	BackupBackend string `yaml:"backup_backend"`

	// Redis (backup_backend = redis)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	// Postgres (backup_backend = postgres)
	DatabaseURL string `yaml:"database_url"`

	// Metrics endpoint; empty disables the listener
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		ServerURL:     getEnv("SERVER_URL", "ws://localhost:8080/ws"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		BackupBackend: getEnv("BACKUP_BACKEND", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "nbclient:backup:"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
	}
}

// LoadFile loads configuration from a YAML file, then fills any unset field
// from the environment-variable defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	env := Load()
	if cfg.ServerURL == "" {
		cfg.ServerURL = env.ServerURL
	}
	if cfg.Environment == "" {
		cfg.Environment = env.Environment
	}
	if cfg.BackupBackend == "" {
		cfg.BackupBackend = env.BackupBackend
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = env.RedisAddr
	}
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = env.RedisPassword
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = env.RedisPrefix
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = env.DatabaseURL
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = env.MetricsAddr
	}

	return &cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}

	switch c.BackupBackend {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown backup_backend %q", c.BackupBackend)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
