// Package config loads service configuration from environment variables and
// commitment-type rule presets from YAML profiles.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Addr           string
	LogLevel       string
	DatabaseDriver string // "memory", "sqlite", "postgres"
	DatabaseURL    string
	AuthSecret     string
	Admin          string
	EscrowAccount  string
	PresetsPath    string
	RateRPS        int
	RateBurst      int
	RedisAddr      string
}

// Load loads configuration from environment variables.
func Load() *Config {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "covenant.db"
	}

	admin := os.Getenv("ADMIN_IDENTITY")
	if admin == "" {
		admin = "admin"
	}

	escrow := os.Getenv("ESCROW_ACCOUNT")
	if escrow == "" {
		escrow = "escrow"
	}

	return &Config{
		Addr:           addr,
		LogLevel:       logLevel,
		DatabaseDriver: driver,
		DatabaseURL:    dbURL,
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		Admin:          admin,
		EscrowAccount:  escrow,
		PresetsPath:    os.Getenv("PRESETS_PATH"),
		RateRPS:        10,
		RateBurst:      20,
		RedisAddr:      os.Getenv("REDIS_ADDR"),
	}
}
