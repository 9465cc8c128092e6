package es

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env wires an EventStore, the per-aggregate storage partitions and the
// domain event bus together and opens sessions against them.
type Env struct {
	ctx          context.Context
	cancelCtx    context.CancelFunc
	shutdownOnce sync.Once
	id           string
	log          *slog.Logger
	store        EventStore
	storage      *EventStorage
	bus          *Bus
	metrics      ESMetrics
	strategy     CommitStrategy
}

func (e *Env) Store() EventStore              { return e.store }
func (e *Env) Storage() *EventStorage         { return e.storage }
func (e *Env) Bus() *Bus                      { return e.bus }
func (e *Env) CommitStrategy() CommitStrategy { return e.strategy }
func (e *Env) Context() context.Context       { return e.ctx }

func NewEnv(opts ...EnvOption) (*Env, error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	switch options.commitStrategy {
	case ValidateThenCommit, FailFast:
	default:
		return nil, fmt.Errorf("unknown commit strategy: %s", options.commitStrategy)
	}

	log := options.log.With(slog.String("env", id))
	e := &Env{
		id:       id,
		log:      log,
		store:    options.store,
		metrics:  options.metrics,
		strategy: options.commitStrategy,
		storage: NewEventStorage(
			options.store,
			WithLog(log),
			WithCodec(options.codec),
			WithClock(options.clock),
			WithIDGenerator(options.idGenerator),
			WithMetrics(options.metrics),
		),
		bus: NewBus(WithLog(log), WithMetrics(options.metrics)),
	}
	e.ctx, e.cancelCtx = context.WithCancel(options.ctx)

	for _, register := range options.subscriptions {
		register(e.bus)
	}

	log.Debug("env ready", slog.String("strategy", e.strategy.String()), slog.String("store", fmt.Sprintf("%T", e.store)))
	return e, nil
}

// OpenSession starts a unit of work and returns a context carrying it.
// It fails with ErrNestedSession if ctx already carries an active session.
func (e *Env) OpenSession(ctx context.Context) (context.Context, *Session, error) {
	if err := e.ctx.Err(); err != nil {
		return ctx, nil, fmt.Errorf("env is shut down: %w", err)
	}
	return openSession(ctx, e.log, e.storage, e.bus, e.metrics, e.strategy)
}

// Transact runs fn inside a fresh session and submits its changes when fn
// returns without error. The session is always closed.
func (e *Env) Transact(ctx context.Context, fn func(ctx context.Context, sess *Session) error) (err error) {
	ctx, sess, err := e.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, sess.Close())
	}()

	if err = fn(ctx, sess); err != nil {
		return err
	}
	return sess.SubmitChanges(ctx)
}

// Shutdown cancels the env context and closes the store if it holds resources.
func (e *Env) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		if c, ok := e.store.(io.Closer); ok {
			err = c.Close()
		}
		e.log.Debug("env shutdown")
	})
	return err
}
