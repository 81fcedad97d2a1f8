package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working directory.
const ConfigPath = "config.yaml"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMinio    = "minio"
	StoreRedis    = "redis"
)

const (
	defaultApplyRateLimitPerMinute = 10
	defaultRateLimitWindowSeconds  = 60
	defaultMaxUploadBytes          = 5 << 20
	defaultCSRFTokenTTL            = "1h"
	defaultShutdownTimeoutSeconds  = 15
	defaultCORSOrigin              = "http://localhost:3000"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string   `yaml:"port"`
	LogLevel                string   `yaml:"logLevel"`
	DocumentStore           string   `yaml:"documentStore"`
	DatabaseURL             string   `yaml:"databaseURL"`
	ObjectStore             string   `yaml:"objectStore"`
	MinioEndpoint           string   `yaml:"minioEndpoint"`
	MinioAccessKey          string   `yaml:"minioAccessKey"`
	MinioSecretKey          string   `yaml:"minioSecretKey"`
	MinioBucket             string   `yaml:"minioBucket"`
	MinioUseSSL             bool     `yaml:"minioUseSSL"`
	RateLimitBackend        string   `yaml:"rateLimitBackend"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	ApplyRateLimitPerMinute int      `yaml:"applyRateLimitPerMinute"`
	RateLimitWindowSeconds  int      `yaml:"rateLimitWindowSeconds"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCidrs"`
	CORSOrigins             []string `yaml:"corsOrigins"`
	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	AllowedContentTypes     []string `yaml:"allowedContentTypes"`
	CSRFSecret              string   `yaml:"csrfSecret"`
	CSRFTokenTTL            string   `yaml:"csrfTokenTTL"`
	AMQPURL                 string   `yaml:"amqpURL"`
	AMQPExchange            string   `yaml:"amqpExchange"`
	NotifyStream            string   `yaml:"notifyStream"`
	MaxConnections          int      `yaml:"maxConnections"`
	ShutdownTimeoutSeconds  int      `yaml:"shutdownTimeoutSeconds"`
}

// Path returns API_CONFIG_PATH when set, otherwise ConfigPath.
func Path() string {
	if v := strings.TrimSpace(os.Getenv("API_CONFIG_PATH")); v != "" {
		return v
	}
	return ConfigPath
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("API_DOCUMENT_STORE"); v != "" {
		cfg.DocumentStore = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("API_OBJECT_STORE"); v != "" {
		cfg.ObjectStore = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("API_RATE_LIMIT_BACKEND"); v != "" {
		cfg.RateLimitBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("API_APPLY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ApplyRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("API_RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitWindowSeconds = n
		}
	}
	if v := os.Getenv("API_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	// CORS_ORIGIN is the single-origin form used by the web frontend's env files.
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := os.Getenv("API_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("API_ALLOWED_CONTENT_TYPES"); v != "" {
		cfg.AllowedContentTypes = splitCSV(v)
	}
	if v := os.Getenv("API_CSRF_SECRET"); v != "" {
		cfg.CSRFSecret = v
	}
	if v := os.Getenv("API_CSRF_TOKEN_TTL"); v != "" {
		cfg.CSRFTokenTTL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMQP_EXCHANGE"); v != "" {
		cfg.AMQPExchange = v
	}
	if v := os.Getenv("API_NOTIFY_STREAM"); v != "" {
		cfg.NotifyStream = v
	}
	if v := os.Getenv("API_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnections = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	cfg.DocumentStore = strings.ToLower(strings.TrimSpace(cfg.DocumentStore))
	if cfg.DocumentStore == "" {
		cfg.DocumentStore = StorePostgres
	}
	cfg.ObjectStore = strings.ToLower(strings.TrimSpace(cfg.ObjectStore))
	if cfg.ObjectStore == "" {
		cfg.ObjectStore = StoreMinio
	}
	cfg.RateLimitBackend = strings.ToLower(strings.TrimSpace(cfg.RateLimitBackend))
	if cfg.RateLimitBackend == "" {
		cfg.RateLimitBackend = StoreMemory
	}
	if cfg.ApplyRateLimitPerMinute == 0 {
		cfg.ApplyRateLimitPerMinute = defaultApplyRateLimitPerMinute
	}
	if cfg.RateLimitWindowSeconds == 0 {
		cfg.RateLimitWindowSeconds = defaultRateLimitWindowSeconds
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{defaultCORSOrigin}
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if strings.TrimSpace(cfg.CSRFTokenTTL) == "" {
		cfg.CSRFTokenTTL = defaultCSRFTokenTTL
	}
	if cfg.ShutdownTimeoutSeconds == 0 {
		cfg.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.DocumentStore {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required when documentStore is postgres")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown documentStore %q (want postgres or memory)", cfg.DocumentStore)
	}
	switch cfg.ObjectStore {
	case StoreMinio:
		if cfg.MinioEndpoint == "" {
			return errors.New("config: minioEndpoint is required when objectStore is minio")
		}
		if cfg.MinioAccessKey == "" {
			return errors.New("config: minioAccessKey is required when objectStore is minio")
		}
		if cfg.MinioSecretKey == "" {
			return errors.New("config: minioSecretKey is required when objectStore is minio")
		}
		if cfg.MinioBucket == "" {
			return errors.New("config: minioBucket is required when objectStore is minio")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown objectStore %q (want minio or memory)", cfg.ObjectStore)
	}
	switch cfg.RateLimitBackend {
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required when rateLimitBackend is redis")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("config: unknown rateLimitBackend %q (want memory or redis)", cfg.RateLimitBackend)
	}
	if cfg.NotifyStream != "" && cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required when notifyStream is set")
	}
	if cfg.ApplyRateLimitPerMinute < 0 {
		return errors.New("config: applyRateLimitPerMinute must be positive")
	}
	if cfg.RateLimitWindowSeconds < 0 {
		return errors.New("config: rateLimitWindowSeconds must be positive")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be positive")
	}
	if cfg.MaxConnections < 0 {
		return errors.New("config: maxConnections must not be negative")
	}
	if cfg.ShutdownTimeoutSeconds < 0 {
		return errors.New("config: shutdownTimeoutSeconds must be positive")
	}
	if cfg.CSRFSecret != "" && len(cfg.CSRFSecret) < 16 {
		return errors.New("config: csrfSecret must be at least 16 bytes")
	}
	if _, err := ParseDuration(cfg.CSRFTokenTTL); err != nil {
		return fmt.Errorf("config: csrfTokenTTL: %w", err)
	}
	return nil
}

// ParseDuration parses a positive Go duration string.
func ParseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return d, nil
}

// RateLimitWindow returns the limiter window as a duration.
func (c FileConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c FileConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
