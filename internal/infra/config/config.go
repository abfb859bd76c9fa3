package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Store driver selection. The in-memory store serves single-process
// deployments and local development without a database.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	TelegramToken string
	DatabaseURL   string
	StoreDriver   string
	HTTPAddr      string
	LogLevel      string
	Environment   string
	Timezone      string

	// CronSpecSweep drives the expiry sweeper tick.
	CronSpecSweep string
	// CronSpecOpenDue opens draft cycles whose registration window arrived.
	CronSpecOpenDue string
}

// Load reads configuration from environment variables and a .env file (if
// present). godotenv never overrides variables already set in the process.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.StoreDriver = strings.ToLower(os.Getenv("STORE_DRIVER"))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = StorePostgres
	}
	if cfg.StoreDriver != StorePostgres && cfg.StoreDriver != StoreMemory {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", cfg.StoreDriver, StorePostgres, StoreMemory)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.StoreDriver == StorePostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	cfg.Timezone = os.Getenv("DEFAULT_TIMEZONE")
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	cfg.CronSpecSweep = os.Getenv("CRON_SPEC_SWEEP")
	if cfg.CronSpecSweep == "" {
		cfg.CronSpecSweep = "* * * * *" // every minute
	}

	cfg.CronSpecOpenDue = os.Getenv("CRON_SPEC_OPEN_DUE")
	if cfg.CronSpecOpenDue == "" {
		cfg.CronSpecOpenDue = "*/5 * * * *"
	}

	return cfg, nil
}
