// Package config loads the control plane configuration. Defaults suit
// local development; an optional YAML file overlays them, and
// environment variables win over both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Flags     FlagsConfig
	Audit     AuditConfig
	Telemetry TelemetryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// PostgresConfig holds database configuration
type PostgresConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

// RedisConfig holds the enablement cache configuration. An empty Addr
// disables the cache and the gate reads Postgres directly.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FlagsConfig holds feature flag configuration. An empty FilePath
// means flags come from the database only.
type FlagsConfig struct {
	FilePath string
}

// AuditConfig holds the audit retention configuration. Retention runs
// only when a bucket is configured: entries past RetentionDays are
// archived to S3 and then pruned on the cron Schedule.
type AuditConfig struct {
	S3Bucket      string
	S3Prefix      string
	S3Region      string
	S3Endpoint    string
	RetentionDays int
	Schedule      string
}

// TelemetryConfig holds logging and tracing configuration
type TelemetryConfig struct {
	LogLevel           logrus.Level
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			URL:      "postgres://localhost:5432/authz?sslmode=disable",
			MaxConns: 25,
			MinConns: 5,
		},
		Audit: AuditConfig{
			S3Prefix:      "audit",
			S3Region:      "us-east-1",
			RetentionDays: 365,
			Schedule:      "0 3 * * *",
		},
		Telemetry: TelemetryConfig{
			LogLevel:           logrus.InfoLevel,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "authz-controlplane",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads configuration: defaults, then the YAML file named
// by AUTHZ_CONFIG_FILE if set, then environment variables
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("AUTHZ_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// fileConfig mirrors Config with optional fields so the overlay only
// touches what the file sets
type fileConfig struct {
	Server struct {
		Host            *string `yaml:"host"`
		Port            *string `yaml:"port"`
		ReadTimeout     *string `yaml:"read_timeout"`
		WriteTimeout    *string `yaml:"write_timeout"`
		IdleTimeout     *string `yaml:"idle_timeout"`
		ShutdownTimeout *string `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Postgres struct {
		URL      *string `yaml:"url"`
		MaxConns *int    `yaml:"max_conns"`
		MinConns *int    `yaml:"min_conns"`
	} `yaml:"postgres"`
	Redis struct {
		Addr     *string `yaml:"addr"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
	} `yaml:"redis"`
	Flags struct {
		FilePath *string `yaml:"file_path"`
	} `yaml:"flags"`
	Audit struct {
		S3Bucket      *string `yaml:"s3_bucket"`
		S3Prefix      *string `yaml:"s3_prefix"`
		S3Region      *string `yaml:"s3_region"`
		S3Endpoint    *string `yaml:"s3_endpoint"`
		RetentionDays *int    `yaml:"retention_days"`
		Schedule      *string `yaml:"schedule"`
	} `yaml:"audit"`
	Telemetry struct {
		LogLevel     *string `yaml:"log_level"`
		OTelEnabled  *bool   `yaml:"otel_enabled"`
		OTelEndpoint *string `yaml:"otel_endpoint"`
		OTelService  *string `yaml:"otel_service_name"`
		OTelVersion  *string `yaml:"otel_service_version"`
		OTelInsecure *bool   `yaml:"otel_insecure"`
	} `yaml:"telemetry"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}

	setString(&c.Server.Host, file.Server.Host)
	setString(&c.Server.Port, file.Server.Port)
	if err := setDuration(&c.Server.ReadTimeout, file.Server.ReadTimeout); err != nil {
		return fmt.Errorf("invalid read_timeout: %w", err)
	}
	if err := setDuration(&c.Server.WriteTimeout, file.Server.WriteTimeout); err != nil {
		return fmt.Errorf("invalid write_timeout: %w", err)
	}
	if err := setDuration(&c.Server.IdleTimeout, file.Server.IdleTimeout); err != nil {
		return fmt.Errorf("invalid idle_timeout: %w", err)
	}
	if err := setDuration(&c.Server.ShutdownTimeout, file.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}

	setString(&c.Postgres.URL, file.Postgres.URL)
	setInt(&c.Postgres.MaxConns, file.Postgres.MaxConns)
	setInt(&c.Postgres.MinConns, file.Postgres.MinConns)

	setString(&c.Redis.Addr, file.Redis.Addr)
	setString(&c.Redis.Password, file.Redis.Password)
	setInt(&c.Redis.DB, file.Redis.DB)

	setString(&c.Flags.FilePath, file.Flags.FilePath)

	setString(&c.Audit.S3Bucket, file.Audit.S3Bucket)
	setString(&c.Audit.S3Prefix, file.Audit.S3Prefix)
	setString(&c.Audit.S3Region, file.Audit.S3Region)
	setString(&c.Audit.S3Endpoint, file.Audit.S3Endpoint)
	setInt(&c.Audit.RetentionDays, file.Audit.RetentionDays)
	setString(&c.Audit.Schedule, file.Audit.Schedule)

	if file.Telemetry.LogLevel != nil {
		c.Telemetry.LogLevel = parseLogLevel(*file.Telemetry.LogLevel)
	}
	setBool(&c.Telemetry.OTelEnabled, file.Telemetry.OTelEnabled)
	setString(&c.Telemetry.OTelEndpoint, file.Telemetry.OTelEndpoint)
	setString(&c.Telemetry.OTelServiceName, file.Telemetry.OTelService)
	setString(&c.Telemetry.OTelServiceVersion, file.Telemetry.OTelVersion)
	setBool(&c.Telemetry.OTelInsecure, file.Telemetry.OTelInsecure)

	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("AUTHZ_HOST", c.Server.Host)
	c.Server.Port = getEnv("AUTHZ_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("AUTHZ_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("AUTHZ_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("AUTHZ_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("AUTHZ_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Postgres.URL = getEnv("AUTHZ_POSTGRES_URL", c.Postgres.URL)
	c.Postgres.MaxConns = getEnvInt("AUTHZ_POSTGRES_MAX_CONNS", c.Postgres.MaxConns)
	c.Postgres.MinConns = getEnvInt("AUTHZ_POSTGRES_MIN_CONNS", c.Postgres.MinConns)

	c.Redis.Addr = getEnv("AUTHZ_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("AUTHZ_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("AUTHZ_REDIS_DB", c.Redis.DB)

	c.Flags.FilePath = getEnv("AUTHZ_FLAGS_FILE", c.Flags.FilePath)

	c.Audit.S3Bucket = getEnv("AUTHZ_AUDIT_S3_BUCKET", c.Audit.S3Bucket)
	c.Audit.S3Prefix = getEnv("AUTHZ_AUDIT_S3_PREFIX", c.Audit.S3Prefix)
	c.Audit.S3Region = getEnv("AUTHZ_AUDIT_S3_REGION", c.Audit.S3Region)
	c.Audit.S3Endpoint = getEnv("AUTHZ_AUDIT_S3_ENDPOINT", c.Audit.S3Endpoint)
	c.Audit.RetentionDays = getEnvInt("AUTHZ_AUDIT_RETENTION_DAYS", c.Audit.RetentionDays)
	c.Audit.Schedule = getEnv("AUTHZ_AUDIT_SCHEDULE", c.Audit.Schedule)

	if level := os.Getenv("AUTHZ_LOG_LEVEL"); level != "" {
		c.Telemetry.LogLevel = parseLogLevel(level)
	}
	c.Telemetry.OTelEnabled = getEnvBool("AUTHZ_OTEL_ENABLED", c.Telemetry.OTelEnabled)
	c.Telemetry.OTelEndpoint = getEnv("AUTHZ_OTEL_ENDPOINT", c.Telemetry.OTelEndpoint)
	c.Telemetry.OTelServiceName = getEnv("AUTHZ_OTEL_SERVICE_NAME", c.Telemetry.OTelServiceName)
	c.Telemetry.OTelServiceVersion = getEnv("AUTHZ_OTEL_SERVICE_VERSION", c.Telemetry.OTelServiceVersion)
	c.Telemetry.OTelInsecure = getEnvBool("AUTHZ_OTEL_INSECURE", c.Telemetry.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("postgres min connections exceeds max connections")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive")
	}
	if c.Audit.S3Bucket != "" && c.Audit.Schedule == "" {
		return fmt.Errorf("audit schedule is required when archiving is configured")
	}
	if c.Telemetry.OTelEnabled {
		if c.Telemetry.OTelEndpoint == "" {
			return fmt.Errorf("otel endpoint is required when tracing is enabled")
		}
		if c.Telemetry.OTelServiceName == "" {
			return fmt.Errorf("otel service name is required when tracing is enabled")
		}
	}
	return nil
}

func parseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	parsed, err := time.ParseDuration(*src)
	if err != nil {
		return err
	}
	*dst = parsed
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
