package es

import (
	"context"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/tstuttard/eventsourcing/internal/codec"
)

// IDGenerator is a function that generates unique IDs for event envelopes.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	valueOption[T any] struct{ v T }

	StoreOption          valueOption[EventStore]
	ContextOption        valueOption[context.Context]
	LogOption            valueOption[*slog.Logger]
	MetricsOption        valueOption[ESMetrics]
	CodecOption          valueOption[codec.Codec]
	ClockOption          valueOption[func() time.Time]
	IDGeneratorOption    valueOption[IDGenerator]
	CommitStrategyOption valueOption[CommitStrategy]
	SubscriptionsOption  valueOption[func(*Bus)]
	MultiOption[T any]   struct{ opts []T }
	EnvOpts              MultiOption[EnvOption]
)

func WithStore(s EventStore) StoreOption                { return StoreOption{v: s} }
func WithCtx(ctx context.Context) ContextOption         { return ContextOption{v: ctx} }
func WithLog(l *slog.Logger) LogOption                  { return LogOption{v: l} }
func WithMetrics(m ESMetrics) MetricsOption             { return MetricsOption{v: m} }
func WithCodec(c codec.Codec) CodecOption               { return CodecOption{v: c} }
func WithClock(now func() time.Time) ClockOption        { return ClockOption{v: now} }
func WithIDGenerator(gen IDGenerator) IDGeneratorOption { return IDGeneratorOption{v: gen} }
func WithCommitStrategy(s CommitStrategy) CommitStrategyOption {
	return CommitStrategyOption{v: s}
}

// WithSubscriptions registers bus handlers while the Env is built.
func WithSubscriptions(register func(*Bus)) SubscriptionsOption {
	return SubscriptionsOption{v: register}
}
func WithEnvOpts(opts ...EnvOption) EnvOpts { return EnvOpts{opts: opts} }

// === storage ===

type (
	storageOpts struct {
		log         *slog.Logger
		codec       codec.Codec
		clock       func() time.Time
		idGenerator IDGenerator
		metrics     ESMetrics
	}

	StorageOption interface{ applyToStorage(*storageOpts) }
)

func newStorageOpts(opts ...StorageOption) storageOpts {
	options := storageOpts{
		log:         slog.Default(),
		codec:       codec.JSON{},
		clock:       time.Now,
		idGenerator: DefaultIDGenerator(),
		metrics:     NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToStorage(&options)
	}
	return options
}

func (o LogOption) applyToStorage(s *storageOpts)         { s.log = o.v }
func (o CodecOption) applyToStorage(s *storageOpts)       { s.codec = o.v }
func (o ClockOption) applyToStorage(s *storageOpts)       { s.clock = o.v }
func (o IDGeneratorOption) applyToStorage(s *storageOpts) { s.idGenerator = o.v }
func (o MetricsOption) applyToStorage(s *storageOpts)     { s.metrics = o.v }

// === bus ===

type (
	busOpts struct {
		log     *slog.Logger
		metrics ESMetrics
	}

	BusOption interface{ applyToBus(*busOpts) }
)

func newBusOpts(opts ...BusOption) busOpts {
	options := busOpts{log: slog.Default(), metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToBus(&options)
	}
	return options
}

func (o LogOption) applyToBus(b *busOpts)     { b.log = o.v }
func (o MetricsOption) applyToBus(b *busOpts) { b.metrics = o.v }
