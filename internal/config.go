package internal

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Env            string
	LogLevel       string
	OpenAIKey      string
	PaystackSecret string
	LicenseSalt    string
	DatabasePath   string
	MigrationsPath string
}

// NewConfig reads configuration from the environment, loading a local .env
// file first if one exists.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getenv("PORT", "5801"),
		Env:            getenv("APP_ENV", "development"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		PaystackSecret: os.Getenv("PAYSTACK_SECRET_KEY"),
		LicenseSalt:    getenv("LICENSE_SALT", "DAILYMIND-2026-SECURE"),
		DatabasePath:   getenv("DATABASE_PATH", "./dailymind.db"),
		MigrationsPath: getenv("MIGRATIONS_PATH", "./migrations"),
	}

	if cfg.OpenAIKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable is required")
	}
	if cfg.PaystackSecret == "" {
		return nil, errors.New("PAYSTACK_SECRET_KEY environment variable is required")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
