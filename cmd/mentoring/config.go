package main

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/tstuttard/eventsourcing/adapters/postgres"
	"github.com/tstuttard/eventsourcing/adapters/redis"
	"github.com/tstuttard/eventsourcing/adapters/sqlite"
	"github.com/tstuttard/eventsourcing/core/es"
)

const (
	backendMemory   = "memory"
	backendSQLite   = "sqlite"
	backendPostgres = "postgres"
	backendRedis    = "redis"
	backendNATS     = "nats"
)

type config struct {
	Backend        string          `env:"ES_BACKEND" envDefault:"memory"`
	CommitStrategy string          `env:"ES_COMMIT_STRATEGY" envDefault:"validate_then_commit"`
	MaxRetries     uint64          `env:"ES_MAX_RETRIES" envDefault:"3"`
	MetricsAddr    string          `env:"ES_METRICS_ADDR"`
	NatsURL        string          `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Postgres       postgres.Config `envPrefix:"ES_POSTGRES_"`
	SQLite         sqlite.Config   `envPrefix:"ES_SQLITE_"`
	Redis          redis.Config    `envPrefix:"ES_REDIS_"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	return cfg, nil
}

func parseCommitStrategy(s string) (es.CommitStrategy, error) {
	for _, cs := range []es.CommitStrategy{es.ValidateThenCommit, es.FailFast} {
		if strings.EqualFold(strings.TrimSpace(s), cs.String()) {
			return cs, nil
		}
	}
	return 0, fmt.Errorf("unknown commit strategy %q", s)
}
