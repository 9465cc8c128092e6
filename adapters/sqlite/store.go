// Package sqlite stores event streams in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tstuttard/eventsourcing/core/es"
)

type Config struct {
	Path string `env:"PATH" envDefault:"events.db"`
}

// EventStore mirrors the postgres layout: a version row per stream and a
// row per event. Write transactions start with BEGIN IMMEDIATE, so the
// version check and the inserts of one append never interleave with another.
type EventStore struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at cfg.Path and migrates it.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*EventStore, error) {
	if log == nil {
		log = slog.Default()
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	path = filepath.Clean(path)

	dsn := "file:" + path +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &EventStore{db: db, log: log.With(slog.String("store", "sqlite"), slog.String("path", path))}, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

var eventColumns = []string{
	"seq", "id", "aggregate_type", "aggregate_id", "version", "type", "occurred_at", "data",
}

func (s *EventStore) Read(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	rows, err := squirrel.Select(eventColumns...).
		From("es_events").
		Where(squirrel.Eq{"aggregate_type": aggType, "aggregate_id": aggID}).
		OrderBy("version").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", aggType, aggID, err)
	}
	defer rows.Close()

	var out []es.Envelope
	for rows.Next() {
		var (
			env      es.Envelope
			version  int64
			occurred int64
			data     []byte
		)
		if err := rows.Scan(&env.Seq, &env.ID, &env.AggregateType, &env.AggregateID, &version, &env.Type, &occurred, &data); err != nil {
			return nil, fmt.Errorf("scan %s/%s: %w", aggType, aggID, err)
		}
		env.Version = es.Version(version)
		env.OccurredAt = time.Unix(0, occurred).UTC()
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
	var v int64
	err := squirrel.Select("version").
		From("es_streams").
		Where(squirrel.Eq{"aggregate_type": aggType, "aggregate_id": aggID}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO es_streams (aggregate_type, aggregate_id, version) VALUES (?, ?, 0) ON CONFLICT DO NOTHING",
		aggType, aggID,
	); err != nil {
		return 0, fmt.Errorf("append %s/%s: %w", aggType, aggID, err)
	}

	var current int64
	if err := tx.QueryRowContext(ctx,
		"SELECT version FROM es_streams WHERE aggregate_type = ? AND aggregate_id = ?",
		aggType, aggID,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("append %s/%s: %w", aggType, aggID, err)
	}
	if es.Version(current) != expected {
		return 0, es.NewConflictError(aggType, aggID, expected, es.Version(current))
	}

	insert := squirrel.Insert("es_events").Columns(eventColumns[1:]...)
	for _, e := range events {
		insert = insert.Values(e.ID, aggType, aggID, int64(e.Version), e.Type, e.OccurredAt.UnixNano(), []byte(e.Data))
	}
	if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
		if isConstraintError(err) {
			return 0, es.NewConflictError(aggType, aggID, expected, es.Version(current))
		}
		return 0, fmt.Errorf("append %s/%s: %w", aggType, aggID, err)
	}

	newVersion := expected.Add(len(events))
	if _, err := tx.ExecContext(ctx,
		"UPDATE es_streams SET version = ? WHERE aggregate_type = ? AND aggregate_id = ?",
		int64(newVersion), aggType, aggID,
	); err != nil {
		return 0, fmt.Errorf("append %s/%s: %w", aggType, aggID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit %s/%s: %w", aggType, aggID, err)
	}

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		newVersion.SlogAttr(),
		slog.Int("num_events", len(events)),
	)
	return newVersion, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

var (
	_ es.EventStore      = (*EventStore)(nil)
	_ es.StreamVersioner = (*EventStore)(nil)
)
