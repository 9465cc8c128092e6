// Package es persists event-sourced aggregates.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate] and is described by an [AggregateType],
// which names its stream namespace and binds a closed [ApplyTable]. The table
// is checked when it is built: every declared event kind has exactly one
// apply step, and an event kind outside the table is rejected on replay and
// on append.
//
//	var ClassType = es.MustAggregateType("class",
//	    func() *Class { return &Class{} },
//	    es.MustApplyTable(
//	        es.On((*Class).onCreated),
//	        es.On((*Class).onCancelled),
//	    ),
//	)
//
//	func (c *Class) Cancel() error {
//	    return c.Raise(&ClassCancelled{}, assert.False(c.cancelled, "class already cancelled"))
//	}
//
// # Sessions
//
// A [Session] is a unit of work carried in a context. Repositories obtained
// with [RepositoryFor] are identity maps scoped to the session; on
// [Session.SubmitChanges] every dirty aggregate is appended with its loaded
// version as the expected version, then its events are published on the
// [Bus]. A second session cannot be opened on a context that already carries
// an active one.
//
//	err := env.Transact(ctx, func(ctx context.Context, sess *es.Session) error {
//	    classes, err := es.RepositoryFor(sess, ClassType)
//	    if err != nil {
//	        return err
//	    }
//	    c, err := classes.Find(ctx, "maths")
//	    if err != nil {
//	        return err
//	    }
//	    return c.Cancel()
//	})
//
// # Stores
//
// [EventStore] implementations append atomically per stream and detect
// conflicting writers through the expected version. [InMemoryStore] lives
// here; durable stores live under adapters/.
package es
