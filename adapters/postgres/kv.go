package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tstuttard/eventsourcing/ports/kv"
)

// KvStore keeps read model entries in the es_kv table next to the event
// tables. Expiry is checked on read against the caller's clock.
type KvStore struct {
	db  DB
	log *slog.Logger
	now func() time.Time
}

// KvStore returns a kv.Store sharing the event store's connection pool.
func (s *EventStore) KvStore() *KvStore {
	return &KvStore{db: s.db, log: s.log.With(slog.String("table", "es_kv")), now: time.Now}
}

const (
	upsertKv = "INSERT INTO es_kv (key, value, expires_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at"
	selectKv = "SELECT value FROM es_kv WHERE key = $1 AND (expires_at IS NULL OR expires_at > $2)"
)

func (k *KvStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	var expiresAt *time.Time
	if opts.TTL > 0 {
		at := k.now().Add(opts.TTL)
		expiresAt = &at
	}
	if _, err := k.db.Exec(ctx, upsertKv, key, value, expiresAt); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := k.db.QueryRow(ctx, selectKv, key, k.now()).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if _, err := k.db.Exec(ctx, "DELETE FROM es_kv WHERE key = $1", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Swap holds a transaction-scoped advisory lock on the key, so concurrent
// swaps of one key run one after the other even while the row is missing.
func (k *KvStore) Swap(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error {
	err := withTx(ctx, k.db, k.log, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			return err
		}
		var old []byte
		found := true
		if err := tx.QueryRow(ctx, selectKv, key, k.now()).Scan(&old); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			found = false
		}
		value, err := fn(old, found)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertKv, key, value, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("swap %s: %w", key, err)
	}
	return nil
}

var (
	_ kv.Store   = (*KvStore)(nil)
	_ kv.Swapper = (*KvStore)(nil)
)
