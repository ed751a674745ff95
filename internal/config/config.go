// Package config содержит логику чтения конфигурации биллинг-сервиса.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации биллинг-сервиса.
// Секреты (ключ терминала, пароль шлюза, токен бота, строка подключения к БД)
// задаются только окружением или флагами — никогда в исходном коде.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	GatewayURL       string `env:"TBANK_API_URL"`
	TerminalKey      string `env:"TBANK_TERMINAL_KEY"`
	TerminalPassword string `env:"TBANK_PASSWORD"`
	NotificationURL  string `env:"NOTIFICATION_URL"`
	SuccessURL       string `env:"SUCCESS_URL"`
	BotToken         string `env:"TELEGRAM_BOT_TOKEN"`
	AllowedOrigin    string `env:"ALLOWED_ORIGIN"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGatewayURL := cfg.GatewayURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.GatewayURL, "g", "https://securepay.tinkoff.ru/v2", "payment gateway API base URL")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGatewayURL != "" {
		cfg.GatewayURL = envGatewayURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.TerminalKey == "" || cfg.TerminalPassword == "" {
		return nil, errors.New("gateway terminal key and password are required")
	}

	return cfg, nil
}
