package prometheus

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
)

type noteTaken struct {
	Text string `json:"text"`
}

func (noteTaken) EventType() string { return "note_taken" }

type note struct {
	es.BaseAggregate
	texts []string
}

var noteType = es.MustAggregateType("note",
	func() *note { return &note{} },
	es.MustApplyTable(es.On(func(n *note, e *noteTaken) { n.texts = append(n.texts, e.Text) })),
)

func TestNewESMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)

	m.StoreReadDuration("class").ObserveDuration()
	m.StoreAppendDuration("class").ObserveDuration()
	m.EventsAppended("class", 3)
	m.ConcurrencyConflict("class")
	m.CacheHit("class")
	m.CacheMiss("class")
	m.SessionCommitDuration().ObserveDuration()
	m.SessionsOpen().Inc()
	m.HandlerDuration("class_created").ObserveDuration()
	m.HandlerFailed("class_created")

	pm := m.(*esMetrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(pm.eventsAppended.WithLabelValues("class")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.sessionsOpen))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.storeReadDuration))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["es_store_append_duration_seconds"])
	assert.True(t, names["es_identity_map_hits_total"])
	assert.True(t, names["es_bus_handler_failures_total"])
}

func TestESMetrics_duplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewESMetrics(reg)
	require.Panics(t, func() { NewESMetrics(reg) })
}

func TestESMetrics_wiredIntoEnv(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewESMetrics(reg)
	boom := errors.New("projection down")

	te := es.StartTestEnv(t,
		es.WithMetrics(m),
		es.WithSubscriptions(func(b *es.Bus) {
			es.SubscribeFunc(b, func(context.Context, *noteTaken) error { return boom })
		}),
	)

	ctx, sess := te.Session()
	notes, err := es.RepositoryFor(sess, noteType)
	require.NoError(t, err)
	n := noteType.New("n-1")
	require.NoError(t, n.Raise(&noteTaken{Text: "hi"}))
	require.NoError(t, notes.Add(n))
	require.ErrorIs(t, sess.SubmitChanges(ctx), boom)
	require.NoError(t, sess.Close())

	pm := m.(*esMetrics)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.eventsAppended.WithLabelValues("note")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.handlerFailures.WithLabelValues("note_taken")))
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.sessionsOpen))

	ctx, sess = te.Session()
	notes, err = es.RepositoryFor(sess, noteType)
	require.NoError(t, err)
	_, err = notes.Find(ctx, "n-1")
	require.NoError(t, err)
	_, err = notes.Find(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.cacheMisses.WithLabelValues("note")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.cacheHits.WithLabelValues("note")))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	NewESMetrics(reg).EventsAppended("mentor", 2)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := new(strings.Builder)
	_, err = io.Copy(body, res.Body)
	require.NoError(t, err)
	require.Contains(t, body.String(), `es_events_appended_total{aggregate_type="mentor"} 2`)
	require.Contains(t, body.String(), "go_goroutines")
}
