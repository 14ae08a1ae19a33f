// Package config содержит логику чтения конфигурации бота.
package config

import (
	"flag"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultAuthSecret = "crajybot-secret"
	defaultTimezone   = "Asia/Dubai"
)

// Config содержит параметры конфигурации бота.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	RedisURL       string `env:"REDIS_URL"`
	AMQPURL        string `env:"AMQP_URL"`
	GatewayAddress string `env:"GATEWAY_ADDRESS"`
	AuthSecret     string `env:"AUTH_SECRET"`
	BotTimezone    string `env:"BOT_TIMEZONE"`

	MetricsFlushSchedule string `env:"METRICS_FLUSH_SCHEDULE" envDefault:"@hourly"`
	MetricsSandbox       bool   `env:"METRICS_SANDBOX" envDefault:"false"`

	LoanReminderDelay time.Duration `env:"LOAN_REMINDER_DELAY" envDefault:"18h"`
	LoanDefaultDelay  time.Duration `env:"LOAN_DEFAULT_DELAY" envDefault:"6h"`
	LoanSweepSchedule string        `env:"LOAN_SWEEP_SCHEDULE" envDefault:"@every 1m"`

	CapLossesAtCash bool `env:"CAP_LOSSES_AT_CASH" envDefault:"false"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisURL, "r", "", "redis URL for cooldowns")
	flag.StringVar(&cfg.AMQPURL, "q", "", "AMQP URL for notifications")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "chat gateway address")
	flag.StringVar(&cfg.AuthSecret, "s", defaultAuthSecret, "HMAC secret for invoker tokens")
	flag.StringVar(&cfg.BotTimezone, "tz", defaultTimezone, "bot timezone")

	flag.Parse()

	override(&cfg.RunAddress, fromEnv.RunAddress)
	override(&cfg.DatabaseURI, fromEnv.DatabaseURI)
	override(&cfg.RedisURL, fromEnv.RedisURL)
	override(&cfg.AMQPURL, fromEnv.AMQPURL)
	override(&cfg.GatewayAddress, fromEnv.GatewayAddress)
	override(&cfg.AuthSecret, fromEnv.AuthSecret)
	override(&cfg.BotTimezone, fromEnv.BotTimezone)

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.BotTimezone == "" {
		cfg.BotTimezone = defaultTimezone
	}

	if cfg.LoanReminderDelay <= 0 || cfg.LoanDefaultDelay <= 0 {
		return nil, fmt.Errorf("loan delays must be positive, got %s and %s", cfg.LoanReminderDelay, cfg.LoanDefaultDelay)
	}

	return cfg, nil
}

func override(dst *string, envValue string) {
	if envValue != "" {
		*dst = envValue
	}
}

// Location загружает часовой пояс бота.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.BotTimezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.BotTimezone, err)
	}
	return loc, nil
}
