package config

import (
	"fmt"
	"os"
	"time"
)

// Config collects everything the server needs from the environment.
// cmd binaries load .env first via godotenv.
type Config struct {
	ListenAddr string
	DBDSN      string
	JWTSecret  string
	TokenTTL   time.Duration
}

// Load reads configuration from the environment. DB_DSN and JWT_SECRET are
// required; the rest have defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),
		DBDSN:      os.Getenv("DB_DSN"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		TokenTTL:   24 * time.Hour,
	}

	if cfg.DBDSN == "" {
		return Config{}, fmt.Errorf("DB_DSN environment variable is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if raw := os.Getenv("TOKEN_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TOKEN_TTL %q: %w", raw, err)
		}
		cfg.TokenTTL = ttl
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
