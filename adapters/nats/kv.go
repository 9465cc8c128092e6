package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/tstuttard/eventsourcing/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// MaxTTL is the bucket-wide entry lifetime, zero for none. JetStream
	// buckets expire by bucket, so per-entry TTLs above it are capped.
	MaxTTL time.Duration
}

// KvStore keeps read model entries in a JetStream key-value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  cfg.Bucket,
		Storage: jetstream.FileStorage,
		TTL:     cfg.MaxTTL,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Bucket, err)
	}
	return &KvStore{kv: bucket, closeNc: closeNc}, nil
}

func (k *KvStore) Put(ctx context.Context, key string, value []byte, _ kv.PutOptions) error {
	_, err := k.kv.Put(ctx, key, value)
	return err
}

func (k *KvStore) Get(ctx context.Context, key string) ([]byte, error) {
	e, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, kv.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return e.Value(), nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (k *KvStore) Close() error {
	k.closeNc()
	return nil
}

const maxSwapAttempts = 64

// Swap writes fn's result conditioned on the revision it read, or with
// Create when the key is missing, and retries when another writer got there
// first.
func (k *KvStore) Swap(ctx context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error {
	for range maxSwapAttempts {
		var (
			old   []byte
			rev   uint64
			found bool
		)
		e, err := k.kv.Get(ctx, key)
		switch {
		case err == nil:
			old, rev, found = e.Value(), e.Revision(), true
		case errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted):
		default:
			return fmt.Errorf("swap %s: %w", key, err)
		}

		v, err := fn(old, found)
		if err != nil {
			return err
		}
		if found {
			_, err = k.kv.Update(ctx, key, v, rev)
		} else {
			_, err = k.kv.Create(ctx, key, v)
		}
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
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
