package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectAppliesPoolLimits(t *testing.T) {
	t.Parallel()

	// The pool dials lazily with MinConns left at zero, so no server is
	// needed to check the applied configuration.
	pool, err := Connect(context.Background(), "postgres://keygate@localhost:5432/keygate", PoolLimits{MaxConns: 7})
	require.NoError(t, err)
	defer pool.Close()
	require.Equal(t, int32(7), pool.Config().MaxConns)
}

func TestConnectZeroLimitsKeepDriverDefaults(t *testing.T) {
	t.Parallel()

	pool, err := Connect(context.Background(), "postgres://keygate@localhost:5432/keygate", PoolLimits{})
	require.NoError(t, err)
	defer pool.Close()
	require.Positive(t, pool.Config().MaxConns)
}

func TestConnectRejectsBadDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "not a dsn", PoolLimits{})
	require.Error(t, err)
}
