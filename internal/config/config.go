// Package config loads grantly configuration from YAML and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the root configuration structure.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Client ClientConfig `mapstructure:"client"`
	UI     UIConfig     `mapstructure:"ui"`
	Debug  bool         `mapstructure:"debug"`
}

// ServerConfig holds grantlyd settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	DSN    string `mapstructure:"dsn"`
}

// ClientConfig holds permissions API connection settings.
type ClientConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SearchDebounce time.Duration `mapstructure:"search_debounce"`
}

// UIConfig holds user interface preferences.
type UIConfig struct {
	Theme       string `mapstructure:"theme"`
	HistoryPath string `mapstructure:"history_path"`
}

// Load reads configuration from the YAML file and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.config/grantly")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GRANTLY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	applyDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults plus environment are enough.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration values.
func Validate(cfg *Config) error {
	if cfg.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url cannot be empty")
	}
	if !strings.HasPrefix(cfg.Client.BaseURL, "http://") && !strings.HasPrefix(cfg.Client.BaseURL, "https://") {
		return fmt.Errorf("client.base_url must start with http:// or https://, got %s", cfg.Client.BaseURL)
	}
	if cfg.Client.Timeout < time.Second || cfg.Client.Timeout > time.Minute {
		return fmt.Errorf("client.timeout must be between 1s and 1m, got %v", cfg.Client.Timeout)
	}
	if cfg.Client.SearchDebounce < 50*time.Millisecond || cfg.Client.SearchDebounce > 2*time.Second {
		return fmt.Errorf("client.search_debounce must be between 50ms and 2s, got %v", cfg.Client.SearchDebounce)
	}

	validThemes := []string{"dark", "light"}
	validTheme := false
	for _, theme := range validThemes {
		if cfg.UI.Theme == theme {
			validTheme = true
			break
		}
	}
	if !validTheme {
		return fmt.Errorf("ui.theme must be one of: %v, got %s", validThemes, cfg.UI.Theme)
	}

	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen cannot be empty")
	}

	return nil
}

// applyDefaults sets default configuration values.
func applyDefaults() {
	viper.SetDefault("server.listen", "127.0.0.1:8575")
	viper.SetDefault("server.dsn", "")

	viper.SetDefault("client.base_url", "http://127.0.0.1:8575")
	viper.SetDefault("client.api_key", "")
	viper.SetDefault("client.timeout", "10s")
	viper.SetDefault("client.search_debounce", "200ms")

	viper.SetDefault("ui.theme", "dark")
	viper.SetDefault("ui.history_path", "")

	viper.SetDefault("debug", false)
}
