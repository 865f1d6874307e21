// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the process-wide settings read from the environment at startup.
// Values are resolved once in main and passed down; no component reads the
// environment after boot.
type Config struct {
	Port        string
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	LogLevel    string
	LogJSON     bool
}

// Load reads the configuration from environment variables, applying local-dev
// defaults. DATABASE_URL wins over the individual POSTGRES_* pieces.
func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     os.Getenv("LOG_FORMAT") == "json",
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			getEnv("POSTGRES_USER", "postgres"),
			getEnv("POSTGRES_PASSWORD", ""),
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			getEnv("PG_DATABASE", "chatwave"),
		)
	}

	return cfg
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
