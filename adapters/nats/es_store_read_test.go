package nats

import (
	"encoding/json"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/es/estests"
)

type fakeMsg struct {
	jetstream.Msg
	seq  uint64
	data []byte
}

func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{Sequence: jetstream.SequencePair{Stream: m.seq, Consumer: m.seq}}, nil
}

type fakeBatch struct {
	jetstream.MessageBatch
	msgs chan jetstream.Msg
}

func (b *fakeBatch) Messages() <-chan jetstream.Msg { return b.msgs }
func (b *fakeBatch) Error() error                   { return nil }

// fakeConsumer hands out one prepared batch per Fetch, then empty ones.
type fakeConsumer struct {
	jetstream.Consumer
	batches [][]jetstream.Msg
}

func (c *fakeConsumer) Fetch(int, ...jetstream.FetchOpt) (jetstream.MessageBatch, error) {
	var msgs []jetstream.Msg
	if len(c.batches) > 0 {
		msgs, c.batches = c.batches[0], c.batches[1:]
	}
	ch := make(chan jetstream.Msg, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &fakeBatch{msgs: ch}, nil
}

func batchMsg(t *testing.T, seq uint64, envs []es.Envelope) jetstream.Msg {
	t.Helper()
	data, err := json.Marshal(envs)
	require.NoError(t, err)
	return &fakeMsg{seq: seq, data: data}
}

func TestConsumeBatches(t *testing.T) {
	envs := estests.Envelopes("class", "maths", 0, 3)

	t.Run("reads up to the last batch", func(t *testing.T) {
		cc := &fakeConsumer{batches: [][]jetstream.Msg{
			{batchMsg(t, 4, envs[:2])},
			{batchMsg(t, 9, envs[2:])},
		}}
		got, err := (&EventStore{}).consumeBatches(t.Context(), cc, 9)
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, uint64(4), got[1].Seq)
		require.Equal(t, uint64(9), got[2].Seq)
	})

	t.Run("running dry before the last batch is an error", func(t *testing.T) {
		cc := &fakeConsumer{batches: [][]jetstream.Msg{
			{batchMsg(t, 4, envs[:2])},
		}}
		got, err := (&EventStore{}).consumeBatches(t.Context(), cc, 9)
		require.ErrorContains(t, err, "history is incomplete")
		require.Nil(t, got)
	})
}

func TestEventStore_AppendRejectsSubjectTokens(t *testing.T) {
	// the key is checked before the store touches the connection
	s := &EventStore{}
	for _, id := range []string{"a.b", "a*", "a>", ""} {
		_, err := s.Append(t.Context(), "class", id, 0, estests.Envelopes("class", id, 0, 1))
		require.Error(t, err, "id %q", id)
	}
}
