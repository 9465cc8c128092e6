package es

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// InMemoryStore keeps streams in process memory. Each stream has its own
// lock, so appends to different streams proceed in parallel and readers see
// a consistent version/event list pair.
type InMemoryStore struct {
	mu      sync.RWMutex
	log     *slog.Logger
	seq     atomic.Uint64
	streams map[StreamKey]*memStream
}

type memStream struct {
	mu     sync.RWMutex
	events []Envelope
}

func NewInMemoryStore(opts ...MemoryStoreOption) *InMemoryStore {
	log := slog.Default()
	for _, opt := range opts {
		if opt.log != nil {
			log = opt.log
		}
	}
	return &InMemoryStore{
		log:     log.With(slog.String("store", "memory")),
		streams: map[StreamKey]*memStream{},
	}
}

// MemoryStoreOption configures an InMemoryStore.
type MemoryStoreOption struct{ log *slog.Logger }

func WithMemoryStoreLog(log *slog.Logger) MemoryStoreOption { return MemoryStoreOption{log: log} }

func (s *InMemoryStore) stream(k StreamKey, create bool) *memStream {
	s.mu.RLock()
	st, ok := s.streams[k]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[k]; ok {
		return st
	}
	st = &memStream{}
	s.streams[k] = st
	return st
}

func (s *InMemoryStore) Read(ctx context.Context, aggType, aggID string) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := s.stream(StreamKey{aggType, aggID}, false)
	if st == nil {
		return nil, ErrNotFound
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	if len(st.events) == 0 {
		return nil, ErrNotFound
	}
	return slices.Clone(st.events), nil
}

func (s *InMemoryStore) StreamVersion(ctx context.Context, aggType, aggID string) (Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	st := s.stream(StreamKey{aggType, aggID}, false)
	if st == nil {
		return 0, nil
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return Version(len(st.events)), nil
}

func (s *InMemoryStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected Version,
	events []Envelope,
) (Version, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := ValidateBatch(aggType, aggID, expected, events); err != nil {
		return 0, err
	}

	st := s.stream(StreamKey{aggType, aggID}, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	current := Version(len(st.events))
	if current != expected {
		return 0, NewConflictError(aggType, aggID, expected, current)
	}

	batch := make([]Envelope, len(events))
	for i, e := range events {
		e.Seq = s.seq.Add(1)
		batch[i] = e
	}
	st.events = append(st.events, batch...)
	newVersion := expected.Add(len(batch))

	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		newVersion.SlogAttr(),
		slog.Int("num_events", len(batch)),
	)

	return newVersion, nil
}

var (
	_ EventStore      = (*InMemoryStore)(nil)
	_ StreamVersioner = (*InMemoryStore)(nil)
)
