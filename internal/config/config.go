// Package config содержит логику чтения конфигурации библиотечного сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации библиотечного сервиса.
// Суммы штрафов задаются в минимальных денежных единицах.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabaseURI       string        `env:"DATABASE_URI"`
	NotifyAddress     string        `env:"NOTIFY_ADDRESS"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"`
	LostFineAmount    int64         `env:"LOST_FINE_AMOUNT"`
	DamagedFineAmount int64         `env:"DAMAGED_FINE_AMOUNT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyAddress := cfg.NotifyAddress
	envAuthSecret := cfg.AuthSecret
	envSweepInterval := cfg.SweepInterval
	envLostFine := cfg.LostFineAmount
	envDamagedFine := cfg.DamagedFineAmount

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification system address")
	flag.StringVar(&cfg.AuthSecret, "s", "library-secret", "secret key for auth cookies")
	flag.DurationVar(&cfg.SweepInterval, "i", time.Minute, "overdue sweep interval")
	flag.Int64Var(&cfg.LostFineAmount, "lost-fine", 50000, "fine amount for a lost copy")
	flag.Int64Var(&cfg.DamagedFineAmount, "damaged-fine", 20000, "fine amount for a damaged copy")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSweepInterval != 0 {
		cfg.SweepInterval = envSweepInterval
	}
	if envLostFine != 0 {
		cfg.LostFineAmount = envLostFine
	}
	if envDamagedFine != 0 {
		cfg.DamagedFineAmount = envDamagedFine
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	return cfg, nil
}
