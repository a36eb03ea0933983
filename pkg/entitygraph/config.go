package entitygraph

import (
	"github.com/ZanzyTHEbar/sg-entity-graph/internal/database"
)

// Config exposes a stable wrapper for record store configuration in package
// mode. Fields map directly to internal/database.Config; zero values fall
// back to the same defaults NewConfig applies.
type Config struct {
	URL                 string
	AuthToken           string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxIdleSec      int
	ConnMaxLifeSec      int
	BackfillParallelism int
}

func (c *Config) toInternal() *database.Config {
	defaults := database.NewConfig()
	out := &database.Config{
		URL:                 c.URL,
		AuthToken:           c.AuthToken,
		MaxOpenConns:        c.MaxOpenConns,
		MaxIdleConns:        c.MaxIdleConns,
		ConnMaxIdleSec:      c.ConnMaxIdleSec,
		ConnMaxLifeSec:      c.ConnMaxLifeSec,
		BackfillParallelism: c.BackfillParallelism,
	}
	if out.URL == "" {
		out.URL = defaults.URL
	}
	if out.BackfillParallelism <= 0 {
		out.BackfillParallelism = defaults.BackfillParallelism
	}
	return out
}
