package es_test

import (
	"github.com/tstuttard/eventsourcing/core/es"
	"github.com/tstuttard/eventsourcing/core/es/assert"
)

type (
	TallyOpened struct {
		Name string `json:"name"`
	}
	TallyCounted struct {
		By int `json:"by"`
	}
	TallyClosed struct{}
	// unknownEvent is never declared by any apply table.
	unknownEvent struct{}
)

func (TallyOpened) EventType() string  { return "tally_opened" }
func (TallyCounted) EventType() string { return "tally_counted" }
func (TallyClosed) EventType() string  { return "tally_closed" }

type Tally struct {
	es.BaseAggregate
	Name   string
	Total  int
	Counts int
	Closed bool
}

var TallyType = es.MustAggregateType(
	"tally",
	func() *Tally { return &Tally{} },
	es.MustApplyTable(
		es.On(func(t *Tally, e *TallyOpened) { t.Name = e.Name }),
		es.On(func(t *Tally, e *TallyCounted) { t.Total += e.By; t.Counts++ }),
		es.On(func(t *Tally, _ *TallyClosed) { t.Closed = true }),
	),
)

func OpenTally(id, name string) (*Tally, error) {
	t := TallyType.New(id)
	if err := t.Raise(&TallyOpened{Name: name}, assert.NotEmpty(name, "name is set")); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tally) Count(by int) error {
	return t.Raise(
		&TallyCounted{By: by},
		assert.False(t.Closed, "tally is open"),
		assert.True(by > 0, "count is positive"),
	)
}

func (t *Tally) Close() error {
	return t.Raise(&TallyClosed{}, assert.False(t.Closed, "tally is open"))
}

// state is the externally observable part of a Tally.
type state struct {
	Name   string
	Total  int
	Counts int
	Closed bool
}

func (t *Tally) state() state {
	return state{Name: t.Name, Total: t.Total, Counts: t.Counts, Closed: t.Closed}
}

type Label struct {
	es.BaseAggregate
	Text string
}

type LabelSet struct {
	Text string `json:"text"`
}

func (LabelSet) EventType() string { return "label_set" }

var LabelType = es.MustAggregateType(
	"label",
	func() *Label { return &Label{} },
	es.MustApplyTable(
		es.On(func(l *Label, e *LabelSet) { l.Text = e.Text }),
	),
)
