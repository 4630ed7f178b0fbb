package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env       string `mapstructure:"SCRIBE_ENV"`
	HTTPAddr  string `mapstructure:"SCRIBE_HTTP_ADDR"`
	PublicURL string `mapstructure:"SCRIBE_PUBLIC_ORIGIN"`

	Storage  StorageConfig  `mapstructure:",squash"`
	Autosave AutosaveConfig `mapstructure:",squash"`
	Uploads  UploadConfig   `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type StorageConfig struct {
	Backend    string `mapstructure:"SCRIBE_KV_BACKEND"` // "memory" or "redis"
	RedisURL   string `mapstructure:"SCRIBE_REDIS_URL"`
	LimitBytes int64  `mapstructure:"SCRIBE_STORAGE_LIMIT_BYTES"` // Cap on the serialized post collection
}

type AutosaveConfig struct {
	Debounce    time.Duration `mapstructure:"SCRIBE_AUTOSAVE_DEBOUNCE"`    // Quiet period before a commit starts
	BaseDelay   time.Duration `mapstructure:"SCRIBE_AUTOSAVE_BASE_DELAY"`  // First retry delay; doubles per attempt
	MaxAttempts int           `mapstructure:"SCRIBE_AUTOSAVE_MAX_RETRIES"` // Commit attempts before giving up
}

type UploadConfig struct {
	Dir      string `mapstructure:"SCRIBE_UPLOADS_DIR"`
	MaxBytes int64  `mapstructure:"SCRIBE_UPLOAD_MAX_BYTES"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"SCRIBE_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"SCRIBE_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if !filepath.IsAbs(path) {
			if resolved, err := filepath.Abs(path); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SCRIBE_ENV", "dev")
	viper.SetDefault("SCRIBE_HTTP_ADDR", ":8080")
	viper.SetDefault("SCRIBE_PUBLIC_ORIGIN", "http://localhost:3000")
	viper.SetDefault("SCRIBE_KV_BACKEND", "memory")
	viper.SetDefault("SCRIBE_REDIS_URL", "redis://127.0.0.1:6379/0")
	viper.SetDefault("SCRIBE_STORAGE_LIMIT_BYTES", 5*1024*1024)
	viper.SetDefault("SCRIBE_AUTOSAVE_DEBOUNCE", "2s")
	viper.SetDefault("SCRIBE_AUTOSAVE_BASE_DELAY", "1s")
	viper.SetDefault("SCRIBE_AUTOSAVE_MAX_RETRIES", 3)
	viper.SetDefault("SCRIBE_UPLOADS_DIR", "uploads")
	viper.SetDefault("SCRIBE_UPLOAD_MAX_BYTES", 10*1024*1024)
	viper.SetDefault("SCRIBE_RATE_LIMIT_RPM", 300)
	viper.SetDefault("SCRIBE_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")

	// Handle array parsing for comma-separated values
	if origins := viper.GetString("SCRIBE_CORS_ALLOWED_ORIGINS"); origins != "" {
		viper.Set("SCRIBE_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid SCRIBE_KV_BACKEND %q (must be memory or redis)", c.Storage.Backend)
	}
	if c.Storage.Backend == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("SCRIBE_REDIS_URL is required when SCRIBE_KV_BACKEND is redis")
	}
	if c.Storage.LimitBytes <= 0 {
		return fmt.Errorf("SCRIBE_STORAGE_LIMIT_BYTES must be positive")
	}
	if c.Autosave.Debounce <= 0 {
		return fmt.Errorf("SCRIBE_AUTOSAVE_DEBOUNCE must be positive")
	}
	if c.Autosave.BaseDelay <= 0 {
		return fmt.Errorf("SCRIBE_AUTOSAVE_BASE_DELAY must be positive")
	}
	if c.Autosave.MaxAttempts < 1 {
		return fmt.Errorf("SCRIBE_AUTOSAVE_MAX_RETRIES must be at least 1")
	}
	if c.Uploads.MaxBytes <= 0 {
		return fmt.Errorf("SCRIBE_UPLOAD_MAX_BYTES must be positive")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
