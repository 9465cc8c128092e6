package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/sf"
)

const (
	defaultSubjectPrefix = "es"
	defaultStreamName    = "ES_EVENTS"

	hdrAggType  = "x-aggregate-type"
	hdrAggID    = "x-aggregate-id"
	hdrVersion  = "x-version"
	hdrNumEvent = "x-num-events"
)

type EventStoreConfig struct {
	Connect       Connector    // defaults to ConnectDefault()
	Log           *slog.Logger // optional
	SubjectPrefix string       // events of a stream go to <prefix>.<agg type>.<agg id>
	StreamName    string
	Replicas      int
	MemoryStorage bool
}

// EventStore keeps each aggregate stream on its own JetStream subject. One
// Append is one message carrying the whole batch, published with the
// subject's last sequence as expectation, so a batch lands entirely or not
// at all and a concurrent writer is rejected by the server.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
	reads         sf.Group[[]es.Envelope]
}

func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}
	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	stream, streamInfo, err := ensureStream(ctx, js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    storage,
		Replicas:   max(cfg.Replicas, 1),
		DenyDelete: true,
		DenyPurge:  true,
		FirstSeq:   1,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log.Debug("stream ensured", slog.Uint64("msgs", streamInfo.State.Msgs))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

// Read replays the stream through an ordered consumer. Concurrent reads of
// one stream share a single consumer and run under the first caller's ctx.
func (e *EventStore) Read(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	if err := checkKey(aggType, aggID); err != nil {
		return nil, err
	}
	envs, shared, err := e.reads.Do(e.subjectFor(aggType, aggID), func() ([]es.Envelope, error) {
		return e.read(ctx, aggType, aggID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		envs = slices.Clone(envs)
	}
	return envs, nil
}

func (e *EventStore) read(ctx context.Context, aggType, aggID string) ([]es.Envelope, error) {
	last, err := e.lastBatch(ctx, aggType, aggID)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, es.ErrNotFound
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{e.subjectFor(aggType, aggID)},
	})
	if err != nil {
		return nil, err
	}
	return e.consumeBatches(ctx, cc, last.seq)
}

func (e *EventStore) StreamVersion(ctx context.Context, aggType, aggID string) (es.Version, error) {
	if err := checkKey(aggType, aggID); err != nil {
		return 0, err
	}
	last, err := e.lastBatch(ctx, aggType, aggID)
	if err != nil || last == nil {
		return 0, err
	}
	return last.version, nil
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expected es.Version,
	events []es.Envelope,
) (es.Version, error) {
	if err := checkKey(aggType, aggID); err != nil {
		return 0, err
	}
	if err := es.ValidateBatch(aggType, aggID, expected, events); err != nil {
		return 0, err
	}

	last, err := e.lastBatch(ctx, aggType, aggID)
	if err != nil {
		return 0, fmt.Errorf("read stream head: %w", err)
	}
	var (
		lastSeq uint64
		current es.Version
	)
	if last != nil {
		lastSeq, current = last.seq, last.version
	}
	if current != expected {
		return 0, es.NewConflictError(aggType, aggID, expected, current)
	}

	newVersion := expected.Add(len(events))
	subject := e.subjectFor(aggType, aggID)
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(hdrAggType, aggType)
	msg.Header.Set(hdrAggID, aggID)
	msg.Header.Set(hdrVersion, fmt.Sprint(newVersion.Uint64()))
	msg.Header.Set(hdrNumEvent, fmt.Sprint(len(events)))
	if msg.Data, err = json.Marshal(events); err != nil {
		return 0, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(events[0].ID),
		jetstream.WithExpectLastSequencePerSubject(lastSeq),
	)
	if err != nil {
		if isWrongLastSequence(err) {
			actual, verr := e.StreamVersion(ctx, aggType, aggID)
			if verr != nil {
				actual = current
			}
			return 0, es.NewConflictError(aggType, aggID, expected, actual)
		}
		return 0, fmt.Errorf("publish to %s: %w", subject, err)
	}
	if ack.Duplicate {
		return 0, fmt.Errorf("publish to %s: envelope %s was already stored", subject, events[0].ID)
	}

	e.log.Debug(
		"append",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", aggID)),
		newVersion.SlogAttr(),
		slog.Uint64("seq", ack.Sequence),
		slog.Int("num_events", len(events)),
	)
	return newVersion, nil
}

type batchHead struct {
	seq     uint64
	version es.Version
}

// lastBatch returns the subject's last message position and stream version,
// or nil for a stream that was never appended to.
func (e *EventStore) lastBatch(ctx context.Context, aggType, aggID string) (*batchHead, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, e.subjectFor(aggType, aggID))
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var v uint64
	if _, err := fmt.Sscan(lm.Header.Get(hdrVersion), &v); err != nil {
		return nil, fmt.Errorf("message %d: bad %s header: %w", lm.Sequence, hdrVersion, err)
	}
	return &batchHead{seq: lm.Sequence, version: es.Version(v)}, nil
}

// readFetchWait bounds how long one fetch waits for messages that are known
// to exist up to the stream's last batch.
const readFetchWait = 2 * time.Second

// consumeBatches collects batches until the message at endSeq. A fetch that
// ends empty before that point means the history is incomplete, which is an
// error rather than a shorter stream.
func (e *EventStore) consumeBatches(ctx context.Context, cc jetstream.Consumer, endSeq uint64) ([]es.Envelope, error) {
	var (
		out  []es.Envelope
		seen uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mb, err := cc.Fetch(100, jetstream.FetchMaxWait(readFetchWait))
		if err != nil {
			return nil, err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			batch, seq, err := decodeBatch(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, batch...)
			seen = seq
			if seq >= endSeq {
				return out, nil
			}
		}
		if err := mb.Error(); err != nil && !errors.Is(err, natsgo.ErrTimeout) {
			return nil, err
		}
		if empty {
			return nil, fmt.Errorf("read stopped at message %d before last batch %d: history is incomplete", seen, endSeq)
		}
	}
}

func decodeBatch(msg jetstream.Msg) ([]es.Envelope, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, 0, err
	}
	var batch []es.Envelope
	if err := json.Unmarshal(msg.Data(), &batch); err != nil {
		return nil, 0, fmt.Errorf("decode message %d: %w", md.Sequence.Stream, err)
	}
	for i := range batch {
		batch[i].Seq = md.Sequence.Stream
	}
	return batch, md.Sequence.Stream, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, cfg jetstream.StreamConfig) (jetstream.Stream, *jetstream.StreamInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*natsgo.DefaultTimeout)
	defer cancel()

	s, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err := s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func checkKey(aggType, aggID string) error {
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return errors.New("aggregate id is empty")
	}
	if strings.ContainsAny(aggType+aggID, ".*> \t") {
		return fmt.Errorf("stream key %s/%s contains subject tokens", aggType, aggID)
	}
	return nil
}

func (e *EventStore) subjectFor(aggType, aggID string) string {
	return e.subjectPrefix + "." + aggType + "." + aggID
}

var (
	_ es.EventStore      = (*EventStore)(nil)
	_ es.StreamVersioner = (*EventStore)(nil)
)
