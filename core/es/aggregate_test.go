package es_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es"
)

func TestApplyTable_checkedAtConstruction(t *testing.T) {
	_, err := es.NewApplyTable[*Tally]()
	require.Error(t, err)

	_, err = es.NewApplyTable(
		es.On(func(*Tally, *TallyOpened) {}),
		es.On[*Tally, TallyCounted](nil),
	)
	require.ErrorContains(t, err, "no apply step for")

	_, err = es.NewApplyTable(
		es.On(func(*Tally, *TallyOpened) {}),
		es.On(func(*Tally, *TallyOpened) {}),
	)
	require.ErrorContains(t, err, "duplicate")

	require.Panics(t, func() { es.MustApplyTable[*Tally]() })
}

func TestApplyTable_unknownKind(t *testing.T) {
	tbl := TallyType.Table()
	require.ErrorIs(t, tbl.Apply(TallyType.New("x"), &unknownEvent{}), es.ErrUnknownEventType)
	require.True(t, tbl.Handles("tally_counted"))
	require.False(t, tbl.Handles(es.EventTypeFor[unknownEvent]()))
	require.Equal(t, []string{"tally_opened", "tally_counted", "tally_closed"}, TallyType.Kinds())
}

func TestAggregateType_invalid(t *testing.T) {
	_, err := es.NewAggregateType("", func() *Tally { return &Tally{} }, TallyType.Table())
	require.Error(t, err)
	_, err = es.NewAggregateType[*Tally]("tally", nil, TallyType.Table())
	require.Error(t, err)
	_, err = es.NewAggregateType("tally", func() *Tally { return &Tally{} }, nil)
	require.Error(t, err)
}

func TestAggregate_Raise(t *testing.T) {
	tally, err := OpenTally("t-1", "visitors")
	require.NoError(t, err)
	require.Equal(t, "t-1", tally.GetID())
	require.Equal(t, es.Version(0), tally.GetVersion())
	require.True(t, tally.IsNew())
	require.Equal(t, es.Version(1), tally.PendingVersion())

	require.NoError(t, tally.Count(2))
	require.Equal(t, 2, tally.Total)
	require.Len(t, tally.Uncommitted(), 2)

	t.Run("validation aborts before anything is buffered", func(t *testing.T) {
		err := tally.Count(-1)
		require.True(t, es.IsValidation(err))
		require.Equal(t, 2, tally.Total)
		require.Len(t, tally.Uncommitted(), 2)

		require.NoError(t, tally.Close())
		err = tally.Close()
		require.True(t, es.IsValidation(err))
		require.ErrorContains(t, err, "tally is open")
		require.Len(t, tally.Uncommitted(), 3)
	})

	t.Run("undeclared kind is rejected", func(t *testing.T) {
		require.ErrorIs(t, tally.Raise(&unknownEvent{}), es.ErrUnknownEventType)
		require.Len(t, tally.Uncommitted(), 3)
	})

	t.Run("uncommitted is a copy", func(t *testing.T) {
		evs := tally.Uncommitted()
		evs[0] = nil
		require.NotNil(t, tally.Uncommitted()[0])
	})

	_, err = OpenTally("t-2", " ")
	require.True(t, es.IsValidation(err))
}

func TestAggregate_zeroValueIsNotInitialized(t *testing.T) {
	var tally Tally
	require.ErrorIs(t, tally.Count(1), es.ErrAggregateNotInitialized)
}

func TestAggregate_replayDeterminism(t *testing.T) {
	live, err := OpenTally("t-1", "visitors")
	require.NoError(t, err)
	for _, by := range []int{3, 1, 4, 1, 5} {
		require.NoError(t, live.Count(by))
	}
	require.NoError(t, live.Close())

	replayed, err := TallyType.ReconstituteFrom("t-1", live.Uncommitted())
	require.NoError(t, err)
	require.Equal(t, live.state(), replayed.state())
	require.Equal(t, es.Version(7), replayed.GetVersion())
	require.False(t, replayed.HasUncommitted())

	// value events replay like pointers
	byValue, err := TallyType.ReconstituteFrom("t-1", []any{TallyOpened{Name: "visitors"}, TallyCounted{By: 14}, TallyClosed{}})
	require.NoError(t, err)
	require.Equal(t, state{Name: "visitors", Total: 14, Counts: 1, Closed: true}, byValue.state())

	_, err = TallyType.ReconstituteFrom("t-1", []any{&TallyOpened{}, &unknownEvent{}})
	require.ErrorIs(t, err, es.ErrUnknownEventType)
}
