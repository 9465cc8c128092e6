package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// NewTestContainer starts a throwaway postgres for t and returns its DSN.
func NewTestContainer(t testing.TB) string {
	t.Helper()
	ctr, err := tcpostgres.Run(t.Context(), "postgres:16-alpine",
		tcpostgres.WithDatabase("events"),
		tcpostgres.WithUsername("es"),
		tcpostgres.WithPassword("es"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)
	return dsn
}
