package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tstuttard/eventsourcing/ports/kv"
)

// KvStore keeps read model entries as plain Redis strings under prefix.
type KvStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewKvStore(rdb redis.UniversalClient, prefix string) *KvStore {
	return &KvStore{rdb: rdb, prefix: prefix}
}

func (k *KvStore) key(key string) string {
	if k.prefix == "" {
		return key
	}
	return k.prefix + ":" + key
}

func (k *KvStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) error {
	if err := k.rdb.Set(ctx, k.key(key), value, opts.TTL).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := k.rdb.Get(ctx, k.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return b, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.rdb.Del(ctx, k.key(key)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

const maxSwapAttempts = 64

// Swap reads the key under WATCH and writes fn's result in MULTI/EXEC,
// retrying when another client changed the key in between. The swapped
// entry loses its TTL.
func (k *KvStore) Swap(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error {
	rkey := k.key(key)
	for range maxSwapAttempts {
		err := k.rdb.Watch(ctx, func(tx *redis.Tx) error {
			old, err := tx.Get(ctx, rkey).Bytes()
			found := err == nil
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			v, err := fn(old, found)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Set(ctx, rkey, v, 0)
				return nil
			})
			return err
		}, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("swap %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("swap %s: %w", key, kv.ErrSwapContended)
}

var (
	_ kv.Store   = (*KvStore)(nil)
	_ kv.Swapper = (*KvStore)(nil)
)
