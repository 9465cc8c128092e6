package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tstuttard/eventsourcing/adapters/nats"
	"github.com/tstuttard/eventsourcing/adapters/postgres"
	"github.com/tstuttard/eventsourcing/adapters/redis"
	"github.com/tstuttard/eventsourcing/adapters/sqlite"
	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/ports/kv"
)

// backend is an event store plus the kv store the read models live in.
// Durable backends keep the models next to the events so a restarted
// console sees what it built before. release frees whatever the env does
// not close itself.
type backend struct {
	store   es.EventStore
	models  kv.Store
	release func() error
}

func openBackend(ctx context.Context, cfg config, log *slog.Logger) (*backend, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case backendMemory:
		return &backend{store: es.NewInMemoryStore(es.WithMemoryStoreLog(log)), models: kv.NewMemStore(), release: nop}, nil

	case backendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite, log)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, models: s.KvStore(), release: nop}, nil

	case backendPostgres:
		s, err := postgres.Connect(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, models: s.KvStore(), release: nop}, nil

	case backendRedis:
		client := cfg.Redis.NewClient()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		return &backend{
			store:   redis.NewEventStore(client, cfg.Redis.Prefix, log),
			models:  redis.NewKvStore(client, cfg.Redis.Prefix+":models"),
			release: client.Close,
		}, nil

	case backendNATS:
		connect := nats.ReuseConnection(nats.ConnectURL(cfg.NatsURL))
		s, err := nats.NewEventStore(ctx, nats.EventStoreConfig{Connect: connect, Log: log})
		if err != nil {
			return nil, err
		}
		models, err := nats.NewKvStore(ctx, nats.KvConfig{Connect: connect, Bucket: "mentoring"})
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		return &backend{store: s, models: models, release: models.Close}, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want memory, sqlite, postgres, redis or nats)", cfg.Backend)
}
