// Package config loads the engine configuration from an optional yaml
// file with environment-variable overrides. Defaults are defined in
// code so a bare binary runs against local services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	HTTPPort      string        `yaml:"http_port"`
	DataPath      string        `yaml:"data_path"`
	AIServicesURL string        `yaml:"ai_services_url"`
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	RedisAddress string `yaml:"redis_address"`
	NATSAddress  string `yaml:"nats_address"`

	BatchSize        int           `yaml:"batch_size"`
	MaxDays          int           `yaml:"max_days"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	FragmentCacheTTL time.Duration `yaml:"fragment_cache_ttl"`
}

// Default returns the local-development configuration.
func Default() Config {
	return Config{
		HTTPPort:         "9000",
		DataPath:         "thoughtgraph.db",
		AIServicesURL:    "http://localhost:8000",
		OracleTimeout:    30 * time.Second,
		RedisAddress:     "",
		NATSAddress:      "",
		BatchSize:        50,
		MaxDays:          30,
		SweepInterval:    5 * time.Minute,
		FragmentCacheTTL: 5 * time.Minute,
	}
}

// Load reads the yaml file at path (skipped when path is empty or the
// file does not exist) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.HTTPPort = getEnv("PORT", cfg.HTTPPort)
	cfg.DataPath = getEnv("DATA_PATH", cfg.DataPath)
	cfg.AIServicesURL = getEnv("AI_SERVICES_URL", cfg.AIServicesURL)
	cfg.RedisAddress = getEnv("REDIS_URL", cfg.RedisAddress)
	cfg.NATSAddress = getEnv("NATS_URL", cfg.NATSAddress)
	cfg.BatchSize = getEnvInt("BATCH_SIZE", cfg.BatchSize)
	cfg.MaxDays = getEnvInt("MAX_DAYS", cfg.MaxDays)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.OracleTimeout = getEnvDuration("ORACLE_TIMEOUT", cfg.OracleTimeout)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
