package config

import (
	"fmt"
	"log"
	"os"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	DatabaseURL     string
	RemoteBaseURL   string
	OwnerToken      string
	RedisAddr       string
	QueueBackend    string
	DedupWindow     time.Duration
	SyncInterval    time.Duration
	RemoteTimeout   time.Duration
	RateLimitPerMin int
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "8082"),
		DatabaseURL:     getEnv("DATABASE_URL", "file:classtrack.db"),
		RemoteBaseURL:   getEnv("REMOTE_BASE_URL", "http://localhost:8080"),
		OwnerToken:      getEnv("OWNER_TOKEN", ""),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:    getEnv("QUEUE_BACKEND", "memory"),
		DedupWindow:     durationEnv("DEDUP_WINDOW", 300*time.Millisecond),
		SyncInterval:    durationEnv("SYNC_INTERVAL", 30*time.Second),
		RemoteTimeout:   durationEnv("REMOTE_TIMEOUT", 10*time.Second),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 240),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}
