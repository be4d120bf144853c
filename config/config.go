// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/modelapi/core/convention"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Models     ModelsConfig     `yaml:"models"`
	Resources  []ResourceConfig `yaml:"resources"`
	Serializer SerializerConfig `yaml:"serializer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	OpenAPI    OpenAPIConfig    `yaml:"openapi"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Router          string        `yaml:"router"`     // "chi" or "gin"
	PublicURL       string        `yaml:"public_url"` // makes hrefs absolute when set
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the persistence engine.
type DatabaseConfig struct {
	Driver           string `yaml:"driver"` // "memory", "sqlite" or "postgres"
	DSN              string `yaml:"dsn"`
	AutoCreateTables bool   `yaml:"auto_create_tables"`
}

// ModelsConfig locates the model description files.
type ModelsConfig struct {
	Dir string `yaml:"dir"`
}

// ResourceConfig publishes one model. An empty prefix means /<table>/.
type ResourceConfig struct {
	Model  string `yaml:"model"`
	Prefix string `yaml:"prefix,omitempty"`
}

// SerializerConfig tunes the resource schemas.
type SerializerConfig struct {
	MaxDepth   int `yaml:"max_depth"`
	SecretCost int `yaml:"secret_cost"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Version string `yaml:"version"`
}

// TracingConfig configures OpenTelemetry instrumentation of the server.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := enabled()
	setDefaults(cfg)
	return cfg
}

// enabled returns a config with the switches that default to on.
func enabled() *Config {
	return &Config{
		Metrics:  MetricsConfig{Enabled: true},
		OpenAPI:  OpenAPIConfig{Enabled: true},
		Database: DatabaseConfig{AutoCreateTables: true},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes. Values absent from the document
// keep their defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := enabled()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	MODELAPI_SERVER_HOST         - Server host (default: 0.0.0.0)
//	MODELAPI_SERVER_PORT         - Server port (default: 8080)
//	MODELAPI_SERVER_ROUTER       - Routing substrate: chi or gin (default: chi)
//	MODELAPI_PUBLIC_URL          - Base URL for absolute hrefs
//	MODELAPI_DATABASE_DRIVER     - memory, sqlite or postgres (default: sqlite)
//	MODELAPI_DATABASE_DSN        - Database DSN (default: modelapi.db)
//	MODELAPI_AUTO_CREATE_TABLES  - Create missing tables at startup (default: true)
//	MODELAPI_MODELS_DIR          - Model description directory (default: models)
//	MODELAPI_MAX_DEPTH           - Nesting depth of rendered objects (default: 2)
//	MODELAPI_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	MODELAPI_LOG_FORMAT          - Log format: json or console (default: json)
//	MODELAPI_METRICS_ENABLED     - Enable /metrics endpoint (default: true)
//	MODELAPI_OPENAPI_ENABLED     - Enable OpenAPI/Swagger (default: true)
//	MODELAPI_TRACING_ENABLED     - Wrap the server with OpenTelemetry (default: false)
func LoadFromEnv() (*Config, error) {
	cfg := enabled()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies MODELAPI_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("MODELAPI_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("MODELAPI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MODELAPI_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("MODELAPI_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}
	if v := os.Getenv("MODELAPI_SERVER_ROUTER"); v != "" {
		cfg.Server.Router = v
	}
	if v := os.Getenv("MODELAPI_PUBLIC_URL"); v != "" {
		cfg.Server.PublicURL = v
	}

	// Database configuration
	if v := os.Getenv("MODELAPI_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("MODELAPI_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("MODELAPI_AUTO_CREATE_TABLES"); v != "" {
		cfg.Database.AutoCreateTables = parseBool(v)
	}

	if v := os.Getenv("MODELAPI_MODELS_DIR"); v != "" {
		cfg.Models.Dir = v
	}
	if v := os.Getenv("MODELAPI_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Serializer.MaxDepth = n
		}
	}

	// Logging configuration
	if v := os.Getenv("MODELAPI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MODELAPI_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("MODELAPI_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODELAPI_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
	if v := os.Getenv("MODELAPI_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.Router == "" {
		cfg.Server.Router = "chi"
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "modelapi.db"
	}

	if cfg.Models.Dir == "" {
		cfg.Models.Dir = "models"
	}
	if cfg.Serializer.MaxDepth == 0 {
		cfg.Serializer.MaxDepth = 2
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.OpenAPI.Title == "" {
		cfg.OpenAPI.Title = "modelapi"
	}
	if cfg.OpenAPI.Version == "" {
		cfg.OpenAPI.Version = "1.0.0"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "modelapi"
	}
}

// validate reports every problem at once.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port))
	}
	validRouters := map[string]bool{"chi": true, "gin": true}
	if !validRouters[cfg.Server.Router] {
		errs = append(errs, fmt.Errorf("server.router must be 'chi' or 'gin', got %q", cfg.Server.Router))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must not be negative"))
	}

	validDrivers := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validDrivers[cfg.Database.Driver] {
		errs = append(errs, fmt.Errorf("database.driver must be one of: memory, sqlite, postgres"))
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn is required when database.driver is 'postgres'"))
	}

	if cfg.Serializer.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("serializer.max_depth must not be negative"))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format))
	}
	if !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/'"))
	}

	prefixes := make(map[string]string)
	for i, r := range cfg.Resources {
		if r.Model == "" {
			errs = append(errs, fmt.Errorf("resources[%d].model is required", i))
			continue
		}
		if r.Prefix == "" {
			continue
		}
		p := convention.NormalizePrefix(r.Prefix)
		if other, dup := prefixes[p]; dup {
			errs = append(errs, fmt.Errorf("resources[%d].prefix %q already used by %s", i, p, other))
			continue
		}
		prefixes[p] = r.Model
	}

	return errors.Join(errs...)
}
