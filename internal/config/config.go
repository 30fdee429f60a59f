// Package config содержит логику чтения конфигурации сервиса packpool.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса packpool.
type Config struct {
	RunAddress           string `env:"RUN_ADDRESS"`
	DatabaseURI          string `env:"DATABASE_URI"`
	FlutterwaveAddress   string `env:"FLUTTERWAVE_ADDRESS"`
	FlutterwaveSecretKey string `env:"FLUTTERWAVE_SECRET_KEY"`
	WebhookSecret        string `env:"FLUTTERWAVE_WEBHOOK_SECRET"`
	FrontendURL          string `env:"FRONTEND_URL"`
	AuthSecret           string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envFlutterwaveAddress := cfg.FlutterwaveAddress
	envFrontendURL := cfg.FrontendURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.FlutterwaveAddress, "f", "https://api.flutterwave.com/v3", "flutterwave API address")
	flag.StringVar(&cfg.FrontendURL, "u", "http://localhost:3000", "frontend base URL for payment redirects")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envFlutterwaveAddress != "" {
		cfg.FlutterwaveAddress = envFlutterwaveAddress
	}
	if envFrontendURL != "" {
		cfg.FrontendURL = envFrontendURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "packpool-secret"
	}

	return cfg, nil
}
