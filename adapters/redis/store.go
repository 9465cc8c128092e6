// Package redis keeps event streams and read models in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/tstuttard/eventsourcing/core/es"
)

type Config struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"es"`
}

func (c Config) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
}

// appendScript checks the stream version and pushes the batch in one script
// run, which Redis executes without interleaving other commands.
//
// KEYS: version, events, seqs, global seq counter.
// ARGV: expected version, encoded envelopes...
var appendScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
if cur ~= tonumber(ARGV[1]) then
  return {0, cur}
end
local n = #ARGV - 1
local last = redis.call('INCRBY', KEYS[4], n)
for i = 2, #ARGV do
  redis.call('RPUSH', KEYS[2], ARGV[i])
  redis.call('RPUSH', KEYS[3], last - n + i - 1)
end
redis.call('SET', KEYS[1], cur + n)
return {1, cur + n}
`)

// EventStore keeps one list of encoded envelopes per stream next to a
// parallel list of their store-wide sequence numbers.
//
// Every key carries the hash tag {prefix}, so on Redis Cluster the whole
// store lives in one slot and the append script may touch the stream keys
// and the global sequence counter together.
type EventStore struct {
	rdb    redis.UniversalClient
	prefix string
	log    *slog.Logger
}

func NewEventStore(rdb redis.UniversalClient, prefix string, log *slog.Logger) *EventStore {
	if prefix == "" {
		prefix = "es"
	}
	if log == nil {
		log = slog.Default()
	}
	return &EventStore{rdb: rdb, prefix: prefix, log: log.With(slog.String("store", "redis"))}
}

// streamKey length-prefixes the aggregate type so ("a:b", "c") and
// ("a", "b:c") never share a key.
func (s *EventStore) streamKey(kind, aggType, aggID string) string {
	return hashTag(s.prefix) + ":" + kind + ":" + strconv.Itoa(len(aggType)) + ":" + aggType + ":" + aggID
}

func (s *EventStore) seqKey() string { return hashTag(s.prefix) + ":seq" }

func hashTag(prefix string) string { return "{" + prefix + "}" }

func (s *EventStore) Read(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	var events, seqs *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		events = p.LRange(ctx, s.streamKey("events", aggType, aggID), 0, -1)
		seqs = p.LRange(ctx, s.streamKey("seqs", aggType, aggID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", aggType, aggID, err)
	}
	raw, seqVals := events.Val(), seqs.Val()
	if len(raw) == 0 {
		return nil, es.ErrNotFound
	}
	if len(raw) != len(seqVals) {
		return nil, fmt.Errorf("read %s/%s: %d events but %d sequence numbers", aggType, aggID, len(raw), len(seqVals))
	}

	out := make([]es.Envelope, len(raw))
	for i, r := range raw {
		if err := json.Unmarshal([]byte(r), &out[i]); err != nil {
			return nil, fmt.Errorf("decode %s/%s #%d: %w", aggType, aggID, i, err)
		}
		seq, err := strconv.ParseUint(seqVals[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s seq #%d: %w", aggType, aggID, i, err)
		}
		out[i].Seq = seq
	}
	return out, nil
}

func (s *EventStore) StreamVersion(ctx context.Context, aggType, aggID string) (es.Version, error) {
	v, err := s.rdb.Get(ctx, s.streamKey("version", aggType, aggID)).Uint64()
	if errors.Is(err, redis.Nil) {
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

	args := make([]any, 0, len(events)+1)
	args = append(args, uint64(expected))
	for _, e := range events {
		e.Seq = 0
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("encode %s: %w", e.ID, err)
		}
		args = append(args, data)
	}

	keys := []string{
		s.streamKey("version", aggType, aggID),
		s.streamKey("events", aggType, aggID),
		s.streamKey("seqs", aggType, aggID),
		s.seqKey(),
	}
	res, err := appendScript.Run(ctx, s.rdb, keys, args...).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("append %s/%s: %w", aggType, aggID, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("append %s/%s: unexpected script reply %v", aggType, aggID, res)
	}
	if res[0] == 0 {
		return 0, es.NewConflictError(aggType, aggID, expected, es.Version(res[1]))
	}

	newVersion := es.Version(res[1])
	s.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		newVersion.SlogAttr(),
		slog.Int("num_events", len(events)),
	)
	return newVersion, nil
}

var (
	_ es.EventStore      = (*EventStore)(nil)
	_ es.StreamVersioner = (*EventStore)(nil)
)
