// Package postgres stores event streams in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tstuttard/eventsourcing/core/es"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool the store needs; pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var eventColumns = []string{
	"seq", "id", "aggregate_type", "aggregate_id", "version", "type", "occurred_at", "data",
}

// EventStore keeps one es_streams row per stream holding its version and
// one es_events row per event. Append locks the stream row, compares,
// inserts and bumps the version in one transaction.
type EventStore struct {
	db    DB
	log   *slog.Logger
	close func()
}

func NewEventStore(db DB, log *slog.Logger) *EventStore {
	if log == nil {
		log = slog.Default()
	}
	return &EventStore{db: db, log: log.With(slog.String("store", "postgres")), close: func() {}}
}

// Connect opens a pool for cfg, migrates the schema unless told not to and
// returns a store owning the pool.
func Connect(ctx context.Context, cfg Config, log *slog.Logger) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	if !cfg.SkipMigrations {
		if err := Migrate(ctx, cfg.DSN, cfg.MigrationLockID); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := NewEventStore(pool, log)
	s.close = pool.Close
	return s, nil
}

func (s *EventStore) Close() error {
	s.close()
	return nil
}

func (s *EventStore) Read(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	query, args, err := psql.Select(eventColumns...).
		From("es_events").
		Where(squirrel.Eq{"aggregate_type": aggType, "aggregate_id": aggID}).
		OrderBy("version").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", aggType, aggID, err)
	}
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		var (
			env     es.Envelope
			version int64
			data    []byte
		)
		if err := rows.Scan(&env.Seq, &env.ID, &env.AggregateType, &env.AggregateID, &version, &env.Type, &env.OccurredAt, &data); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", aggType, aggID, err)
		}
		env.Version = es.Version(version)
		env.Data = data
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, es.ErrNotFound
	}
	return out, nil
}

func (s *EventStore) StreamVersion(ctx context.Context, aggType, aggID string) (es.Version, error) {
	query, args, err := psql.Select("version").
		From("es_streams").
		Where(squirrel.Eq{"aggregate_type": aggType, "aggregate_id": aggID}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var v int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("stream version %s/%s: %w", aggType, aggID, err)
	}
	return es.Version(v), nil
}

func (s *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected es.Version,
	events []es.Envelope,
) (es.Version, error) {
	if err := es.ValidateBatch(aggType, aggID, expected, events); err != nil {
		return 0, err
	}

	newVersion := expected.Add(len(events))
	err := withTx(ctx, s.db, s.log, func(tx pgx.Tx) error {
		current, err := lockStream(ctx, tx, aggType, aggID)
		if err != nil {
			return err
		}
		if current != expected {
			return es.NewConflictError(aggType, aggID, expected, current)
		}

		insert := psql.Insert("es_events").
			Columns(eventColumns[1:]...).
			Suffix("RETURNING seq")
		for _, e := range events {
			insert = insert.Values(e.ID, aggType, aggID, int64(e.Version), e.Type, e.OccurredAt, string(e.Data))
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		n := 0
		for rows.Next() {
			n++
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if n != len(events) {
			return fmt.Errorf("inserted %d of %d events", n, len(events))
		}

		_, err = tx.Exec(ctx,
			"UPDATE es_streams SET version = $3 WHERE aggregate_type = $1 AND aggregate_id = $2",
			aggType, aggID, int64(newVersion),
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			actual, verr := s.StreamVersion(ctx, aggType, aggID)
			if verr != nil {
				return 0, errors.Join(err, verr)
			}
			return 0, es.NewConflictError(aggType, aggID, expected, actual)
		}
		if !errors.Is(err, es.ErrConcurrencyConflict) {
			err = fmt.Errorf("append %s/%s: %w", aggType, aggID, err)
		}
		return 0, err
	}

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		newVersion.SlogAttr(),
		slog.Int("num_events", len(events)),
	)
	return newVersion, nil
}

// lockStream creates the stream row if needed and locks it for the rest of
// the transaction, returning its version.
func lockStream(ctx context.Context, tx pgx.Tx, aggType, aggID string) (es.Version, error) {
	if _, err := tx.Exec(ctx,
		"INSERT INTO es_streams (aggregate_type, aggregate_id, version) VALUES ($1, $2, 0) ON CONFLICT DO NOTHING",
		aggType, aggID,
	); err != nil {
		return 0, err
	}
	var v int64
	err := tx.QueryRow(ctx,
		"SELECT version FROM es_streams WHERE aggregate_type = $1 AND aggregate_id = $2 FOR UPDATE",
		aggType, aggID,
	).Scan(&v)
	return es.Version(v), err
}

func withTx(ctx context.Context, db DB, log *slog.Logger, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Error("rollback failed", slog.Any("error", rbErr))
			}
			return
		}
		if err = tx.Commit(ctx); err != nil {
			err = fmt.Errorf("commit: %w", err)
		}
	}()
	return fn(tx)
}

var (
	_ es.EventStore      = (*EventStore)(nil)
	_ es.StreamVersioner = (*EventStore)(nil)
)
