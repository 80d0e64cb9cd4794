// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel         string   `mapstructure:"LOG_LEVEL"`
	HTTPAddr         string   `mapstructure:"HTTP_ADDR"`
	DBURL            string   `mapstructure:"DB_URL"`
	AppID            int64    `mapstructure:"GITHUB_APP_ID"`
	InstallationID   int64    `mapstructure:"GITHUB_INSTALLATION_ID"`
	PrivateKey       string   `mapstructure:"GITHUB_PRIVATE_KEY"` // PEM-encoded RSA key
	WebhookSecret    string   `mapstructure:"GITHUB_WEBHOOK_SECRET"`
	BaseURL          string   `mapstructure:"GITHUB_BASE_URL"`
	AdminTokens      []string `mapstructure:"ADMIN_TOKENS"`
	MaintainerTokens []string `mapstructure:"MAINTAINER_TOKENS"`
	ViewerTokens     []string `mapstructure:"VIEWER_TOKENS"`
	QueueWorkers     int      `mapstructure:"QUEUE_WORKERS"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("GITHUB_BASE_URL", "https://api.github.com")
	viper.SetDefault("QUEUE_WORKERS", 5)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.AppID == 0 {
		return nil, errors.New("GITHUB_APP_ID is a required configuration field")
	}
	if cfg.InstallationID == 0 {
		return nil, errors.New("GITHUB_INSTALLATION_ID is a required configuration field")
	}
	if cfg.PrivateKey == "" {
		return nil, errors.New("GITHUB_PRIVATE_KEY is a required configuration field")
	}

	return &cfg, nil
}
