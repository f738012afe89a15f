// Package config handles application configuration from environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mbd888/riskdesk/internal/risk"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string `yaml:"port"`
	Env       string `yaml:"env"` // "development", "staging", "production"
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" or "json"

	// Tracing (disabled when empty)
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Security
	RateLimitRPM   int      `yaml:"rate_limit_rpm"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Risk engine boundary
	NegativeInputPolicy string `yaml:"negative_input_policy"` // "reject" or "clamp"
	MaxBatchSize        int    `yaml:"max_batch_size"`
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultRateLimitRPM   = 600
	DefaultRateLimitBurst = 50
	DefaultInputPolicy    = string(risk.InputPolicyReject)
	DefaultMaxBatchSize   = risk.DefaultMaxBatchSize
)

// Default returns a config populated with defaults only.
func Default() *Config {
	return &Config{
		Port:                DefaultPort,
		Env:                 DefaultEnv,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		RateLimitRPM:        DefaultRateLimitRPM,
		RateLimitBurst:      DefaultRateLimitBurst,
		AllowedOrigins:      []string{"*"},
		NegativeInputPolicy: DefaultInputPolicy,
		MaxBatchSize:        DefaultMaxBatchSize,
	}
}

// Load reads configuration in three layers: defaults, the YAML file named by
// CONFIG_FILE (if set), then environment variables. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Env = getEnv("ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.RateLimitRPM = getEnvInt("RATE_LIMIT_RPM", c.RateLimitRPM)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	c.NegativeInputPolicy = getEnv("NEGATIVE_INPUT_POLICY", c.NegativeInputPolicy)
	c.MaxBatchSize = getEnvInt("MAX_BATCH_SIZE", c.MaxBatchSize)
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
}

// Validate checks that every setting is usable
func (c *Config) Validate() error {
	var errs []error

	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a number between 0 and 65535, got %q", c.Port))
	}
	switch c.Env {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Errorf("ENV must be development, staging or production, got %q", c.Env))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.RateLimitRPM <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM must be positive"))
	}
	if c.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST must be positive"))
	}
	if c.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("MAX_BATCH_SIZE must be positive"))
	}
	if _, err := risk.ParseInputPolicy(c.NegativeInputPolicy); err != nil {
		errs = append(errs, fmt.Errorf("NEGATIVE_INPUT_POLICY: %w", err))
	}

	return errors.Join(errs...)
}

// InputPolicy returns the parsed negative-input policy. Call after Validate.
func (c *Config) InputPolicy() risk.InputPolicy {
	p, _ := risk.ParseInputPolicy(c.NegativeInputPolicy)
	return p
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
