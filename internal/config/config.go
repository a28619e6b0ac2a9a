// Package config provides configuration management for the screening
// gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete gateway configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Preview    PreviewConfig    `mapstructure:"preview"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the HTTP gateway settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// MaxUploadBytes caps the multipart image upload size.
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes"`
}

// ClassifierConfig holds the remote diagnostic service settings. The timeout
// is the collaborator's response bound: no response within it is treated
// exactly like any other transport failure.
type ClassifierConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RateLimit          int           `mapstructure:"rate_limit"`
	BreakerMaxRequests uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval    time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

// CacheConfig holds the local history mirror settings. Driver selects the
// backing store: "sqlite" (default), "postgres", or "none".
type CacheConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// PreviewConfig holds the local preview derivation settings.
type PreviewConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Manager loads and validates gateway configuration using Viper.
type Manager struct {
	config *Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/retina-screening-gateway/")

	viper.SetEnvPrefix("RETINA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8090)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.max_upload_bytes", 10<<20)

	viper.SetDefault("classifier.base_url", "http://localhost:5000")
	viper.SetDefault("classifier.timeout", "60s")
	viper.SetDefault("classifier.rate_limit", 5)
	viper.SetDefault("classifier.breaker_max_requests", 3)
	viper.SetDefault("classifier.breaker_interval", "30s")
	viper.SetDefault("classifier.breaker_timeout", "60s")

	viper.SetDefault("cache.driver", "sqlite")
	viper.SetDefault("cache.sqlite_path", "./data/history.db")
	viper.SetDefault("cache.postgres_url", "")

	viper.SetDefault("preview.dir", "./data/previews")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Validate ensures the loaded configuration is usable.
func (m *Manager) Validate() error {
	cfg := m.config
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Classifier.BaseURL == "" {
		return fmt.Errorf("classifier base URL is required")
	}
	switch cfg.Cache.Driver {
	case "sqlite":
		if cfg.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Cache.PostgresURL == "" {
			return fmt.Errorf("cache.postgres_url is required for the postgres driver")
		}
	case "none":
	default:
		return fmt.Errorf("unknown cache driver: %s", cfg.Cache.Driver)
	}
	return nil
}
