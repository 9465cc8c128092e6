package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestingEnv is an Env bound to a test, shut down on cleanup.
type TestingEnv struct {
	*Env
	t *testing.T
}

func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()
	e, err := NewEnv(
		WithCtx(t.Context()),
		WithEnvOpts(opts...),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Shutdown() })
	return &TestingEnv{Env: e, t: t}
}

// Session opens a session that is closed on test cleanup.
func (e *TestingEnv) Session() (context.Context, *Session) {
	e.t.Helper()
	ctx, sess, err := e.OpenSession(e.t.Context())
	require.NoError(e.t, err)
	e.t.Cleanup(func() { _ = sess.Close() })
	return ctx, sess
}

// Assert returns helpers for checking persisted state.
func (e *TestingEnv) Assert() *TestingEnvAssert { return &TestingEnvAssert{env: e} }

type TestingEnvAssert struct {
	env *TestingEnv
}

// StreamVersion asserts the persisted version of a stream.
func (a *TestingEnvAssert) StreamVersion(aggType, aggID string, want Version) {
	a.env.t.Helper()
	got, err := StreamVersion(a.env.t.Context(), a.env.store, aggType, aggID)
	require.NoError(a.env.t, err)
	require.Equal(a.env.t, want, got, "stream %s/%s", aggType, aggID)
}

// EventTypes asserts the persisted event kinds of a stream, in order.
func (a *TestingEnvAssert) EventTypes(aggType, aggID string, want ...string) {
	a.env.t.Helper()
	envs, err := a.env.store.Read(a.env.t.Context(), aggType, aggID)
	require.NoError(a.env.t, err)
	got := make([]string, 0, len(envs))
	for _, env := range envs {
		got = append(got, env.Type)
	}
	require.Equal(a.env.t, want, got, "stream %s/%s", aggType, aggID)
}
