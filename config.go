package tiled

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds client settings loaded from a file and TILED_* environment
// variables
type Config struct {
	BaseURL   string            `mapstructure:"base_url"`
	Timeout   time.Duration     `mapstructure:"timeout"`
	PageLimit int               `mapstructure:"page_limit"`
	Workers   int               `mapstructure:"workers"`
	Headers   map[string]string `mapstructure:"headers"`
	LogLevel  string            `mapstructure:"log_level"`
}

// LoadConfig reads configuration from path, or from tiled.yaml in the
// working directory when path is empty. A missing default file is not an
// error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("base_url", "http://localhost:8000")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("page_limit", 0)
	v.SetDefault("workers", 0)
	v.SetDefault("log_level", "warn")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tiled")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TILED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges
func (cfg *Config) Validate() error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	if cfg.PageLimit < 0 {
		return fmt.Errorf("page_limit must not be negative, got %d", cfg.PageLimit)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// Options converts the config into client options
func (cfg *Config) Options() []Option {
	level, _ := parseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []Option{
		WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		WithLogger(logger),
		WithPageLimit(cfg.PageLimit),
	}
	for k, val := range cfg.Headers {
		opts = append(opts, WithHeader(k, val))
	}
	return opts
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelWarn, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return l, nil
}
