package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// app config, loaded from environment variables
type Config struct {
	Port        string
	PostgresDSN string
	SQLitePath  string
	RedisAddr   string

	// DebounceInterval is the quiet period before a dirty document is
	// written to the store.
	DebounceInterval time.Duration

	// JoinGrace bounds how long a fresh socket may wait before sending
	// its JOIN message.
	JoinGrace time.Duration

	// TokenTTL is the lifetime of issued room access tokens.
	TokenTTL time.Duration
}

// loads configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		Port:             getEnvOrDefault("PORT", "8084"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		SQLitePath:       getEnvOrDefault("SQLITE_PATH", "cospace.db"),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		DebounceInterval: getEnvDuration("DEBOUNCE_MS", 2000*time.Millisecond),
		JoinGrace:        getEnvDuration("JOIN_GRACE_MS", 10000*time.Millisecond),
		TokenTTL:         getEnvDuration("TOKEN_TTL_MS", 24*time.Hour),
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if config.DebounceInterval <= 0 {
		return errors.New("DEBOUNCE_MS must be positive")
	}
	if config.JoinGrace <= 0 {
		return errors.New("JOIN_GRACE_MS must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms <= 0 {
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}
