package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
	"github.com/warp/funds-engine/ledger/store"
	"github.com/warp/funds-engine/store/storetest"
)

func TestMemoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ledger.Store { return store.NewMemory() })
}

func TestMemoryReturnsCopies(t *testing.T) {
	// GIVEN: A stored internal transfer
	ctx := context.Background()
	m := store.NewMemory()
	src := storetest.Account(t, m, "alice", "10.00")
	dst := storetest.Account(t, m, "bob", "0.00")
	req := storetest.SampleRequests(src.ID, dst.ID, src.CreatedAt)[0]
	require.NoError(t, m.Create(ctx, req))

	// WHEN: The caller mutates both its original and a fetched copy
	req.Internal.Destination = "tampered"
	got, err := m.Get(ctx, req.ID)
	require.NoError(t, err)
	got.Internal.Source = "tampered"

	// THEN: The stored record is unaffected
	again, err := m.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, src.ID, again.Internal.Source)
	assert.Equal(t, dst.ID, again.Internal.Destination)
}

func TestMemoryReset(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	storetest.Account(t, m, "alice", "10.00")

	require.NoError(t, m.Reset(ctx))

	accounts, err := m.ListAccounts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}
