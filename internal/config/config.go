package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL      string
	ServerAddr       string
	StoreBackend     string // "postgres" or "memory"
	FeedPollInterval time.Duration
	MediaMaxSessions int
	TrustIdentity    bool
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "farmbridge")
		pass := getenv("POSTGRES_PASSWORD", "farmbridge_pass")
		db := getenv("POSTGRES_DB", "farmbridge")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	backend := getenv("STORE_BACKEND", "postgres")
	if backend != "postgres" && backend != "memory" {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q", backend)
	}

	return &Config{
		DatabaseURL:      dsn,
		ServerAddr:       getenv("SERVER_ADDR", "0.0.0.0:8080"),
		StoreBackend:     backend,
		FeedPollInterval: parseDuration(getenv("FEED_POLL_INTERVAL", "500ms"), 500*time.Millisecond),
		MediaMaxSessions: parseInt(getenv("MEDIA_MAX_SESSIONS", "64"), 64),
		TrustIdentity:    parseBool(getenv("TRUST_IDENTITY_HEADERS", "true"), true),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseBool(val string, def bool) bool {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}
