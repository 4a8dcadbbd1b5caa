package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML config file. Environment variables override
// the database and NATS settings, the file covers draft tuning and the
// catalog location.
type Config struct {
	Draft struct {
		CatalogPath    string `yaml:"catalog_path"`
		TurnTimeoutSec int    `yaml:"turn_timeout_seconds"`
	} `yaml:"draft"`
	Outbox struct {
		PollIntervalSec int `yaml:"poll_interval_seconds"`
		BatchSize       int `yaml:"batch_size"`
	} `yaml:"outbox"`
}

const defaultTurnTimeout = 300 * time.Second

func loadConfig(path string) (*Config, error) {
	var config Config
	if path == "" {
		return &config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

// TurnTimeout returns the configured pick timer. Zero disables deadlines.
func (c *Config) TurnTimeout() time.Duration {
	if v := os.Getenv("TURN_TIMEOUT_SECONDS"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
			return time.Duration(sec) * time.Second
		}
	}
	if c.Draft.TurnTimeoutSec > 0 {
		return time.Duration(c.Draft.TurnTimeoutSec) * time.Second
	}
	if c.Draft.TurnTimeoutSec < 0 {
		return 0
	}
	return defaultTurnTimeout
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
