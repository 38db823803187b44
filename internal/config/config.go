// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/docker/go-units"
)

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageAzure      = "azure"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Listing
	PageSize     int           `env:"PAGE_SIZE" envDefault:"20"`
	ListCacheTTL time.Duration `env:"LIST_CACHE_TTL" envDefault:"30s"`

	// Attachment storage
	StorageBackend        string `env:"STORAGE_BACKEND" envDefault:"filesystem"`
	StoragePath           string `env:"STORAGE_PATH" envDefault:"./data/boxes"`
	AzureConnectionString string `env:"AZURE_STORAGE_CONNECTION_STRING"`
	AzureContainer        string `env:"AZURE_STORAGE_CONTAINER" envDefault:"boxes"`

	// Uploads. Sizes accept human-readable values such as "64MB".
	MaxUploadSize     string `env:"MAX_UPLOAD_SIZE" envDefault:"64MB"`
	UploadMemory      string `env:"UPLOAD_MEMORY" envDefault:"8MB"`
	UploadConcurrency int    `env:"UPLOAD_CONCURRENCY" envDefault:"4"`

	// Rate limiting
	RateLimitUploadEnabled bool `env:"RATE_LIMIT_UPLOAD_ENABLED" envDefault:"true"`
	RateLimitUploadRPS     int  `env:"RATE_LIMIT_UPLOAD_RPS" envDefault:"2"`
	RateLimitUploadBurst   int  `env:"RATE_LIMIT_UPLOAD_BURST" envDefault:"5"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Download analytics pipeline
	AnalyticsEnabled   bool          `env:"ANALYTICS_ENABLED" envDefault:"true"`
	AnalyticsBatchSize int           `env:"ANALYTICS_BATCH_SIZE" envDefault:"500"`
	AnalyticsClaimIdle time.Duration `env:"ANALYTICS_CLAIM_IDLE" envDefault:"30s"`

	maxUploadBytes    int64
	uploadMemoryBytes int64
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// MaxUploadBytes returns the parsed request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return c.maxUploadBytes
}

// UploadMemoryBytes returns how much of a multipart body is held in memory
// before spilling to temporary files.
func (c *Config) UploadMemoryBytes() int64 {
	return c.uploadMemoryBytes
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or values are invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) finalize() error {
	maxUpload, err := units.FromHumanSize(c.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	if maxUpload <= 0 {
		return errors.New("MAX_UPLOAD_SIZE must be positive")
	}

	memory, err := units.FromHumanSize(c.UploadMemory)
	if err != nil {
		return fmt.Errorf("UPLOAD_MEMORY: %w", err)
	}
	if memory <= 0 || memory > maxUpload {
		memory = min(maxUpload, 8<<20)
	}

	c.maxUploadBytes = maxUpload
	c.uploadMemoryBytes = memory

	if c.PageSize <= 0 || c.PageSize > 100 {
		return errors.New("PAGE_SIZE must be between 1 and 100")
	}
	if c.UploadConcurrency <= 0 {
		c.UploadConcurrency = 1
	}
	if c.AnalyticsBatchSize <= 0 {
		return errors.New("ANALYTICS_BATCH_SIZE must be positive")
	}

	switch c.StorageBackend {
	case StorageFilesystem:
		if c.StoragePath == "" {
			return errors.New("STORAGE_PATH is required for the filesystem backend")
		}
	case StorageAzure:
		if c.AzureConnectionString == "" {
			return errors.New("AZURE_STORAGE_CONNECTION_STRING is required for the azure backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	return nil
}
