package es

import (
	"context"
	"log/slog"
	"time"

	"github.com/tstuttard/eventsourcing/internal/codec"
)

type (
	envOptions struct {
		ctx            context.Context
		log            *slog.Logger
		store          EventStore
		metrics        ESMetrics
		codec          codec.Codec
		clock          func() time.Time
		idGenerator    IDGenerator
		commitStrategy CommitStrategy
		subscriptions  []func(*Bus)
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		ctx:            context.Background(),
		log:            slog.Default(),
		metrics:        NopESMetrics(),
		codec:          codec.JSON{},
		clock:          time.Now,
		idGenerator:    DefaultIDGenerator(),
		commitStrategy: ValidateThenCommit,
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore(WithMemoryStoreLog(options.log))
	}
	return options
}

func (o StoreOption) applyToEnv(e *envOptions)          { e.store = o.v }
func (o ContextOption) applyToEnv(e *envOptions)        { e.ctx = o.v }
func (o LogOption) applyToEnv(e *envOptions)            { e.log = o.v }
func (o MetricsOption) applyToEnv(e *envOptions)        { e.metrics = o.v }
func (o CodecOption) applyToEnv(e *envOptions)          { e.codec = o.v }
func (o ClockOption) applyToEnv(e *envOptions)          { e.clock = o.v }
func (o IDGeneratorOption) applyToEnv(e *envOptions)    { e.idGenerator = o.v }
func (o CommitStrategyOption) applyToEnv(e *envOptions) { e.commitStrategy = o.v }
func (o SubscriptionsOption) applyToEnv(e *envOptions) {
	e.subscriptions = append(e.subscriptions, o.v)
}
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}
