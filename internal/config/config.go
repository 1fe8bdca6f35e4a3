package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr       string
	RedisURL   string
	CORSOrigin string
	// DatabaseURL is optional; when empty the commit journal is disabled.
	DatabaseURL string
	// LockTTL drives both acquisition expiry and the stale sweep.
	LockTTL       time.Duration
	SweepInterval time.Duration
	RetryAttempts int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func Load() Config {
	lockTTL := time.Duration(getenvInt("EASEL_LOCK_TTL_MS", 5000)) * time.Millisecond
	return Config{
		Addr:          getenv("EASEL_ADDR", ":8686"),
		RedisURL:      getenv("REDIS_URL", "redis://localhost:6379/0"),
		CORSOrigin:    getenv("EASEL_CORS_ORIGIN", "*"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		LockTTL:       lockTTL,
		SweepInterval: time.Duration(getenvInt("EASEL_SWEEP_INTERVAL_MS", int(lockTTL/time.Millisecond))) * time.Millisecond,
		RetryAttempts: getenvInt("EASEL_RETRY_MAX_ATTEMPTS", 10),
		RetryBase:     time.Duration(getenvInt("EASEL_RETRY_BASE_MS", 25)) * time.Millisecond,
		RetryMaxDelay: time.Duration(getenvInt("EASEL_RETRY_MAX_DELAY_MS", 1000)) * time.Millisecond,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
