package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig holds everything the server needs at startup. Values come from
// an optional YAML file (CONFIG_FILE) overridden by the environment.
type AppConfig struct {
	Addr string `yaml:"addr"`

	RedisURL    string `yaml:"redis_url"`
	AuthBaseURL string `yaml:"auth_base_url"`

	AllowedOrigins []string `yaml:"allowed_origins"`

	DefaultDuration int `yaml:"default_duration"` // seconds
}

// Load builds the configuration: defaults, then the YAML file if CONFIG_FILE
// is set, then environment variables on top.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Addr:            ":8080",
		DefaultDuration: 600,
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("ADDR")); v != "" {
		cfg.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AUTH_BASE_URL")); v != "" {
		cfg.AuthBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_DURATION")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DefaultDuration = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AuthBaseURL == "" {
		return nil, errors.New("AUTH_BASE_URL is required")
	}
	return cfg, nil
}
