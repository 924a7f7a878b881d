package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aspace-os/contractguard/pkg/auditlog"
)

// Config holds server configuration.
type Config struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	DatabaseURL string `yaml:"database_url"`
	AirLock     bool   `yaml:"air_lock"`

	SchemasDir  string `yaml:"schemas_dir"`
	ExamplesDir string `yaml:"examples_dir"`
	InvalidDir  string `yaml:"invalid_dir"`

	AuditSink   string `yaml:"audit_sink"`
	AuditDir    string `yaml:"audit_dir"`
	AuditBucket string `yaml:"audit_bucket"`
	AuditPrefix string `yaml:"audit_prefix"`
	AWSRegion   string `yaml:"aws_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`

	RedisAddr string `yaml:"redis_addr"`

	JWTSecret      string  `yaml:"jwt_secret"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

func defaults() *Config {
	return &Config{
		Port:           "3000",
		LogLevel:       "INFO",
		LogFormat:      "json",
		SchemasDir:     "protocols",
		ExamplesDir:    "contracts/examples",
		InvalidDir:     "contracts/invalid",
		AuditSink:      "file",
		AuditDir:       "logs",
		RateLimitRPS:   10,
		RateLimitBurst: 20,
		OTLPEndpoint:   "localhost:4317",
	}
}

// Load loads configuration from environment variables.
// An empty DATABASE_URL leaves the guard in Air Lock mode.
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile overlays a YAML file on the defaults. Environment variables that
// are set still take precedence over the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("SCHEMAS_DIR", &cfg.SchemasDir)
	str("EXAMPLES_DIR", &cfg.ExamplesDir)
	str("INVALID_DIR", &cfg.InvalidDir)
	str("AUDIT_SINK", &cfg.AuditSink)
	str("AUDIT_DIR", &cfg.AuditDir)
	str("AUDIT_BUCKET", &cfg.AuditBucket)
	str("AUDIT_PREFIX", &cfg.AuditPrefix)
	str("AWS_REGION", &cfg.AWSRegion)
	str("S3_ENDPOINT", &cfg.S3Endpoint)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("API_JWT_SECRET", &cfg.JWTSecret)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)

	if v := os.Getenv("ASPACE_AIR_LOCK_MODE"); v != "" {
		cfg.AirLock = v == "true"
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.OTelEnabled = v == "true"
	}
	if v, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64); err == nil && v > 0 {
		cfg.RateLimitRPS = v
	}
	if v, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST")); err == nil && v > 0 {
		cfg.RateLimitBurst = v
	}
}

// WritesDisabled reports whether the guard must start in Air Lock mode.
func (c *Config) WritesDisabled() bool {
	return c.AirLock || strings.TrimSpace(c.DatabaseURL) == ""
}

// Audit returns the audit sink settings.
func (c *Config) Audit() auditlog.Config {
	return auditlog.Config{
		Type:     auditlog.SinkType(strings.ToLower(c.AuditSink)),
		Dir:      c.AuditDir,
		Bucket:   c.AuditBucket,
		Prefix:   c.AuditPrefix,
		Region:   c.AWSRegion,
		Endpoint: c.S3Endpoint,
	}
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}
