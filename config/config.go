// Package config loads application configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/warp/charge-engine/charge"
)

// AppConfig holds all configuration for the application.
type AppConfig struct {
	// Core settings
	Port         int
	DatabasePath string
	LogLevel     string

	// Calculation settings
	CalculationMode charge.PeriodKind
	CurrencyScale   int32
	RoundingMode    charge.RoundingMode
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*AppConfig, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	mode, err := charge.ParsePeriodKind(getEnv("CALCULATION_MODE", string(charge.Quarterly)))
	if err != nil {
		return nil, fmt.Errorf("CALCULATION_MODE: %w", err)
	}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, err
	}
	scale, err := getEnvInt("CURRENCY_SCALE", 2)
	if err != nil {
		return nil, err
	}

	rounding := charge.RoundingMode(getEnv("ROUNDING_MODE", string(charge.RoundHalfUp)))
	switch rounding {
	case charge.RoundHalfUp, charge.RoundHalfEven:
	default:
		return nil, fmt.Errorf("ROUNDING_MODE: unknown mode %q", rounding)
	}

	return &AppConfig{
		Port:            port,
		DatabasePath:    getEnv("DATABASE_PATH", "charges.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CalculationMode: mode,
		CurrencyScale:   int32(scale),
		RoundingMode:    rounding,
	}, nil
}

// Currency returns the currency configuration derived from the environment.
func (c *AppConfig) Currency() charge.CurrencyConfig {
	return charge.CurrencyConfig{Scale: c.CurrencyScale, Rounding: c.RoundingMode}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: expected integer, got %q", key, v)
	}
	return n, nil
}
