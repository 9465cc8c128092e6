package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/es/estests"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *EventStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewEventStore(mock, nil)
}

func insertArgs(envs []es.Envelope) []any {
	args := make([]any, 0, len(envs)*7)
	for _, e := range envs {
		args = append(args, e.ID, e.AggregateType, e.AggregateID, int64(e.Version), e.Type, e.OccurredAt, string(e.Data))
	}
	return args
}

func expectLock(mock pgxmock.PgxPoolIface, aggType, aggID string, version int64) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO es_streams").
		WithArgs(aggType, aggID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT version FROM es_streams WHERE (.+) FOR UPDATE").
		WithArgs(aggType, aggID).
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(version))
}

func TestEventStore_Append(t *testing.T) {
	t.Run("locks, inserts and bumps the stream version", func(t *testing.T) {
		mock, store := newMock(t)
		envs := estests.Envelopes("class", "maths", 0, 2)

		expectLock(mock, "class", "maths", 0)
		mock.ExpectQuery("INSERT INTO es_events (.+) RETURNING seq").
			WithArgs(insertArgs(envs)...).
			WillReturnRows(mock.NewRows([]string{"seq"}).AddRow(int64(10)).AddRow(int64(11)))
		mock.ExpectExec("UPDATE es_streams SET version").
			WithArgs("class", "maths", int64(2)).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		v, err := store.Append(t.Context(), "class", "maths", 0, envs)
		require.NoError(t, err)
		assert.Equal(t, es.Version(2), v)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version rolls back", func(t *testing.T) {
		mock, store := newMock(t)
		expectLock(mock, "class", "maths", 3)
		mock.ExpectRollback()

		_, err := store.Append(t.Context(), "class", "maths", 1, estests.Envelopes("class", "maths", 1, 1))
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
		var ce *es.ConflictError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, es.Version(3), ce.Actual)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a conflict", func(t *testing.T) {
		mock, store := newMock(t)
		envs := estests.Envelopes("class", "maths", 0, 1)

		expectLock(mock, "class", "maths", 0)
		mock.ExpectQuery("INSERT INTO es_events").
			WithArgs(insertArgs(envs)...).
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})
		mock.ExpectRollback()
		mock.ExpectQuery("SELECT version FROM es_streams WHERE").
			WithArgs("maths", "class").
			WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(1)))

		_, err := store.Append(t.Context(), "class", "maths", 0, envs)
		require.ErrorIs(t, err, es.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid batch never reaches the database", func(t *testing.T) {
		mock, store := newMock(t)
		_, err := store.Append(t.Context(), "class", "maths", 0, nil)
		require.ErrorIs(t, err, es.ErrStoreNoEvents)
		_, err = store.Append(t.Context(), "class", "maths", 0, estests.Envelopes("class", "maths", 4, 1))
		require.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("driver errors are wrapped", func(t *testing.T) {
		mock, store := newMock(t)
		boom := errors.New("connection reset")
		mock.ExpectBegin().WillReturnError(boom)

		_, err := store.Append(t.Context(), "class", "maths", 0, estests.Envelopes("class", "maths", 0, 1))
		require.ErrorIs(t, err, boom)
		require.NotErrorIs(t, err, es.ErrConcurrencyConflict)
	})
}

func TestEventStore_Read(t *testing.T) {
	t.Run("rows in version order", func(t *testing.T) {
		mock, store := newMock(t)
		at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		mock.ExpectQuery("SELECT (.+) FROM es_events WHERE (.+) ORDER BY version").
			WithArgs("maths", "class").
			WillReturnRows(mock.NewRows(eventColumns).
				AddRow(uint64(7), "e1", "class", "maths", int64(1), "class_created", at, []byte(`{"name":"maths"}`)).
				AddRow(uint64(9), "e2", "class", "maths", int64(2), "class_cancelled", at, []byte(`{}`)))

		envs, err := store.Read(t.Context(), "class", "maths")
		require.NoError(t, err)
		require.Len(t, envs, 2)
		assert.Equal(t, es.Envelope{
			ID: "e1", Seq: 7, Version: 1, AggregateType: "class", AggregateID: "maths",
			Type: "class_created", OccurredAt: at, Data: []byte(`{"name":"maths"}`),
		}, envs[0])
		assert.Equal(t, es.Version(2), envs[1].Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no rows is not found", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery("SELECT (.+) FROM es_events").
			WithArgs("nope", "class").
			WillReturnRows(mock.NewRows(eventColumns))
		_, err := store.Read(t.Context(), "class", "nope")
		require.ErrorIs(t, err, es.ErrNotFound)
	})
}

func TestEventStore_StreamVersion(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectQuery("SELECT version FROM es_streams").
		WithArgs("nope", "class").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT version FROM es_streams").
		WithArgs("maths", "class").
		WillReturnRows(mock.NewRows([]string{"version"}).AddRow(int64(4)))

	v, err := store.StreamVersion(t.Context(), "class", "nope")
	require.NoError(t, err)
	assert.Equal(t, es.Version(0), v)

	v, err = store.StreamVersion(t.Context(), "class", "maths")
	require.NoError(t, err)
	assert.Equal(t, es.Version(4), v)
	assert.NoError(t, mock.ExpectationsWereMet())
}
