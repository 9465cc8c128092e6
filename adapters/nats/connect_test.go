package nats

import (
	"errors"
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/tstuttard/eventsourcing/core/es/estests"
)

func TestReuseConnection_leases(t *testing.T) {
	opened, closed := 0, 0
	connect := ReuseConnection(func() (*natsgo.Conn, closeFunc, error) {
		opened++
		return &natsgo.Conn{}, func() { closed++ }, nil
	})

	nc1, release1, err := connect()
	require.NoError(t, err)
	nc2, release2, err := connect()
	require.NoError(t, err)
	require.Same(t, nc1, nc2)
	require.Equal(t, 1, opened)

	release1()
	release1()
	require.Equal(t, 0, closed, "double release counts once")
	release2()
	require.Equal(t, 1, closed)

	_, release3, err := connect()
	require.NoError(t, err)
	require.Equal(t, 2, opened)
	release3()
}

func TestReuseConnection_error(t *testing.T) {
	boom := errors.New("no route")
	connect := ReuseConnection(func() (*natsgo.Conn, closeFunc, error) { return nil, nil, boom })
	_, _, err := connect()
	require.ErrorIs(t, err, boom)
}

func TestNats_Connect(t *testing.T) {
	estests.RequireIntegration(t)

	connect := ReuseConnection(NewTestContainer(t))
	nc1, release1, err := connect()
	require.NoError(t, err)
	require.Equal(t, "CONNECTED", nc1.Status().String())

	nc2, release2, err := connect()
	require.NoError(t, err)
	require.Same(t, nc1, nc2)

	release1()
	release2()
	require.Equal(t, "CLOSED", nc1.Status().String())
}
