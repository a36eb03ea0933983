package database

import (
	"os"
	"strconv"
)

// Config holds the database configuration
type Config struct {
	URL       string
	AuthToken string

	// Pool tuning; zero leaves the database/sql default.
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int

	// BackfillParallelism bounds concurrent per-type back-fill lookups.
	BackfillParallelism int
}

const defaultBackfillParallelism = 4

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./entity-graph.db"
	}

	authToken := os.Getenv("LIBSQL_AUTH_TOKEN")

	parallelism := envInt("BACKFILL_PARALLELISM")
	if parallelism <= 0 {
		parallelism = defaultBackfillParallelism
	}

	return &Config{
		URL:                 url,
		AuthToken:           authToken,
		MaxOpenConns:        envInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:        envInt("DB_MAX_IDLE_CONNS"),
		ConnMaxIdleSec:      envInt("DB_CONN_MAX_IDLE_SEC"),
		ConnMaxLifeSec:      envInt("DB_CONN_MAX_LIFETIME_SEC"),
		BackfillParallelism: parallelism,
	}
}

// envInt reads a non-negative integer; unset or invalid values read as 0.
func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
