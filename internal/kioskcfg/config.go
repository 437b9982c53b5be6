// Package kioskcfg assembles the kiosk process configuration from defaults,
// an optional YAML file and environment overrides. The result is a plain
// value constructed once in main and passed down explicitly.
package kioskcfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rangebridge/kiosk/internal/endpoint"
	"github.com/rangebridge/kiosk/internal/stream"
	"github.com/rangebridge/kiosk/internal/timer"
)

// Config is everything the kiosk process needs to run.
type Config struct {
	Endpoint endpoint.Config `yaml:"endpoint"`
	Stream   stream.Config   `yaml:"stream"`
	Rules    timer.Rules     `yaml:"rules"`
	Channels []string        `yaml:"channels"`

	// StatusPort is where the kiosk serves /health, /stats and /metrics.
	StatusPort int `yaml:"status_port"`
}

// Default returns the built-in kiosk configuration.
func Default() Config {
	return Config{
		Endpoint:   endpoint.DefaultConfig(),
		Stream:     stream.DefaultConfig(),
		Rules:      timer.DefaultRules(),
		Channels:   []string{"live", "logs"},
		StatusPort: 8090,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// KIOSK_CONFIG (if any), then environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("KIOSK_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KIOSK_BRIDGE_HOST"); v != "" {
		cfg.Endpoint.DeployedHost = v
	}
	cfg.Endpoint.Port = getEnvAsInt("KIOSK_BRIDGE_PORT", cfg.Endpoint.Port)
	if v := os.Getenv("KIOSK_BRIDGE_SCHEME"); v != "" {
		cfg.Endpoint.Scheme = v
	}
	cfg.StatusPort = getEnvAsInt("KIOSK_STATUS_PORT", cfg.StatusPort)
	if v := os.Getenv("KIOSK_CHANNELS"); v != "" {
		channels := strings.Split(v, ",")
		for i := range channels {
			channels[i] = strings.TrimSpace(channels[i])
		}
		cfg.Channels = channels
	}
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
