package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tstuttard/eventsourcing/ports/kv"
)

// KvStore keeps read model entries in the es_kv table of the event
// database, so they survive a restart alongside the streams.
type KvStore struct {
	db  *sql.DB
	now func() time.Time
}

// KvStore returns a kv.Store backed by the same database file.
func (s *EventStore) KvStore() *KvStore {
	return &KvStore{db: s.db, now: time.Now}
}

const upsertKv = "INSERT INTO es_kv (key, value, expires_at) VALUES (?, ?, ?) " +
	"ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at"

func (k *KvStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	var expiresAt sql.NullInt64
	if opts.TTL > 0 {
		expiresAt = sql.NullInt64{Int64: k.now().Add(opts.TTL).UnixNano(), Valid: true}
	}
	if _, err := k.db.ExecContext(ctx, upsertKv, key, value, expiresAt); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) ([]byte, error) {
	return k.get(ctx, k.db, key)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (k *KvStore) get(ctx context.Context, q queryRower, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx,
		"SELECT value FROM es_kv WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)",
		key, k.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, "DELETE FROM es_kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Swap runs inside one write transaction. The connection opens it with
// BEGIN IMMEDIATE, so no other writer can change the key in between.
func (k *KvStore) Swap(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	old, err := k.get(ctx, tx, key)
	found := err == nil
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	value, err := fn(old, found)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertKv, key, value, nil); err != nil {
		return fmt.Errorf("swap %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

var (
	_ kv.Store   = (*KvStore)(nil)
	_ kv.Swapper = (*KvStore)(nil)
)
