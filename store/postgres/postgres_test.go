package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
	"github.com/warp/funds-engine/store/postgres"
	"github.com/warp/funds-engine/store/storetest"
)

// Set FUNDS_TEST_POSTGRES_DSN to a disposable database to run these.
// Every subtest truncates all tables.
func TestPostgresContract(t *testing.T) {
	dsn := os.Getenv("FUNDS_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FUNDS_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) ledger.Store {
		ctx := context.Background()
		s, err := postgres.New(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, s.Reset(ctx))
		t.Cleanup(func() { s.Close() })
		return s
	})
}
