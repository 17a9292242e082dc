package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
	"github.com/warp/funds-engine/store/sqlite"
	"github.com/warp/funds-engine/store/storetest"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store { return newStore(t) })
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	// GIVEN: A file-backed store with one account and one completed deposit
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "funds.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)

	acct := storetest.Account(t, s, "alice", "10.00")
	req := storetest.SampleRequests(acct.ID, acct.ID, acct.CreatedAt)[3]
	require.NoError(t, s.Create(ctx, req))
	at := acct.CreatedAt.Add(time.Minute)
	_, err = s.Transition(ctx, req.ID, ledger.StatusPending, ledger.StatusCompleted, ledger.TransitionMeta{
		ProcessedBy: "admin-1",
		ProcessedAt: &at,
	})
	require.NoError(t, err)
	_, err = s.ApplyDelta(ctx, acct.ID, req.Amount, ledger.DeltaOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// WHEN: The database is reopened
	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	// THEN: Balances and request state survived
	bal, err := reopened.GetBalance(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", bal.String())

	got, err := reopened.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Equal(t, ledger.ProcessorID("admin-1"), got.ProcessedBy)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, at.Equal(*got.ProcessedAt))
}

func TestSQLiteReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	acct := storetest.Account(t, s, "alice", "10.00")
	for _, r := range storetest.SampleRequests(acct.ID, acct.ID, acct.CreatedAt) {
		require.NoError(t, s.Create(ctx, r))
	}

	require.NoError(t, s.Reset(ctx))

	accounts, err := s.ListAccounts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, accounts)
	requests, err := s.List(ctx, ledger.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, requests)
}
