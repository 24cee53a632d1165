// Package config loads server configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	HTTPPort      string                 `yaml:"http_port"`
	GRPCPort      string                 `yaml:"grpc_port"` // empty disables the gRPC service
	LogLevel      string                 `yaml:"log_level"`
	DefaultPolicy string                 `yaml:"default_policy"` // threshold | classifier
	Thresholds    engine.ThresholdConfig `yaml:"thresholds"`
	Classifier    ClassifierConfig       `yaml:"classifier"`
	Storage       StorageConfig          `yaml:"storage"`
	Auth          AuthConfig             `yaml:"auth"`
	DatasetPath   string                 `yaml:"dataset_path"`
	BatchWorkers  int                    `yaml:"batch_workers"`
	CORSOrigins   []string               `yaml:"cors_origins"` // empty allows any origin
}

// ClassifierConfig locates the remote model and its feature schema.
type ClassifierConfig struct {
	Endpoint   string `yaml:"endpoint"` // empty = no classifier
	SchemaPath string `yaml:"schema_path"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// Timeout returns the per-call classifier deadline.
func (c ClassifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// StorageConfig holds database DSNs. All are optional.
type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// AuthConfig configures API key authentication. StaticKeys is used when no
// Postgres DSN is set; an empty map accepts any well-formed key.
type AuthConfig struct {
	CacheTTLSeconds int               `yaml:"cache_ttl_seconds"`
	CacheSize       int               `yaml:"cache_size"`  // 0 uses the auth package default
	StaticKeys      map[string]string `yaml:"static_keys"` // key → project id
	RecordDecisions bool              `yaml:"record_decisions"`
}

// CacheTTL returns the auth cache TTL.
func (a AuthConfig) CacheTTL() time.Duration {
	return time.Duration(a.CacheTTLSeconds) * time.Second
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:      "8080",
		LogLevel:      "info",
		DefaultPolicy: engine.PolicyThreshold.String(),
		Thresholds:    engine.DefaultThresholdConfig(),
		Classifier: ClassifierConfig{
			TimeoutMs: 200,
		},
		Auth: AuthConfig{
			CacheTTLSeconds: 30,
			RecordDecisions: true,
		},
		BatchWorkers: 8,
	}
}

// Load reads a YAML config file over the defaults. Fields absent from the
// file keep their default values. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("Load %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on the config.
func (c *Config) ApplyEnv() {
	c.HTTPPort = envOrDefault("MDMP_HTTP_PORT", c.HTTPPort)
	c.GRPCPort = envOrDefault("MDMP_GRPC_PORT", c.GRPCPort)
	c.LogLevel = envOrDefault("MDMP_LOG_LEVEL", c.LogLevel)
	c.DefaultPolicy = envOrDefault("MDMP_DEFAULT_POLICY", c.DefaultPolicy)
	c.Thresholds.Engage = envOrDefaultFloat("MDMP_ENGAGE_THRESHOLD", c.Thresholds.Engage)
	c.Thresholds.AskAuthorization = envOrDefaultFloat("MDMP_ASK_AUTHORIZATION_THRESHOLD", c.Thresholds.AskAuthorization)
	c.Thresholds.DoNotKnow = envOrDefaultFloat("MDMP_DO_NOT_KNOW_THRESHOLD", c.Thresholds.DoNotKnow)
	c.Classifier.Endpoint = envOrDefault("MDMP_CLASSIFIER_ENDPOINT", c.Classifier.Endpoint)
	c.Classifier.SchemaPath = envOrDefault("MDMP_CLASSIFIER_SCHEMA", c.Classifier.SchemaPath)
	c.Classifier.TimeoutMs = envOrDefaultInt("MDMP_CLASSIFIER_TIMEOUT_MS", c.Classifier.TimeoutMs)
	c.Storage.PostgresDSN = envOrDefault("POSTGRES_DSN", c.Storage.PostgresDSN)
	c.Storage.ClickHouseDSN = envOrDefault("CLICKHOUSE_DSN", c.Storage.ClickHouseDSN)
	c.Storage.SQLitePath = envOrDefault("MDMP_SQLITE_PATH", c.Storage.SQLitePath)
	c.Auth.CacheTTLSeconds = envOrDefaultInt("MDMP_AUTH_CACHE_TTL_S", c.Auth.CacheTTLSeconds)
	c.DatasetPath = envOrDefault("MDMP_DATASET_PATH", c.DatasetPath)
	c.BatchWorkers = envOrDefaultInt("MDMP_BATCH_WORKERS", c.BatchWorkers)
	if v := os.Getenv("MDMP_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
}

// Policy returns the parsed default policy.
func (c *Config) Policy() (engine.Policy, error) {
	return engine.ParsePolicy(c.DefaultPolicy)
}

// Validate checks the config for values the server cannot start with.
func (c *Config) Validate() error {
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("default_policy: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.Classifier.TimeoutMs < 0 {
		return fmt.Errorf("classifier.timeout_ms must be >= 0, got %d", c.Classifier.TimeoutMs)
	}
	if c.Auth.CacheTTLSeconds < 0 {
		return fmt.Errorf("auth.cache_ttl_seconds must be >= 0, got %d", c.Auth.CacheTTLSeconds)
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("batch_workers must be >= 1, got %d", c.BatchWorkers)
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// splitList parses a comma-separated env value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
