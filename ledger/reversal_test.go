package ledger_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
)

// approvedTransfer sets up A=$200.00, B=$0.00 and a completed $75.00 A->B.
func approvedTransfer(t *testing.T, h *harness) (a, b ledger.AccountID, id ledger.RequestID) {
	t.Helper()
	a = h.account(t, "alice", "200.00")
	b = h.account(t, "bob", "0.00")
	req := h.create(t, transfer(a, b, "75.00"))
	_, err := h.engine.Approve(h.ctx, req.ID, "admin-1", "")
	require.NoError(t, err)
	return a, b, req.ID
}

func TestRefund_IsSingleUse(t *testing.T) {
	// GIVEN: A completed transfer
	// WHEN: Refunded twice
	// THEN: The second call fails and the source is credited exactly once

	h := newHarness(t)
	a, b, id := approvedTransfer(t, h)

	_, err := h.engine.Refund(h.ctx, id, "admin-1", "")
	require.NoError(t, err)

	_, err = h.engine.Refund(h.ctx, id, "admin-1", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInvalidState) || errors.Is(err, ledger.ErrConflict), "got %v", err)

	assert.Equal(t, "200.00", h.balance(t, a))
	assert.Equal(t, "75.00", h.balance(t, b))

	refunds, err := h.store.List(h.ctx, ledger.RequestFilter{Search: "refund of"})
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}

func TestRefund_Concurrent(t *testing.T) {
	h := newHarness(t)
	a, _, id := approvedTransfer(t, h)
	h.rewire(t, h.store, newBarrier(h.store, 2))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.Refund(h.ctx, id, "admin-1", "dispute")
		}(i)
	}
	wg.Wait()

	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrConflict), errors.Is(err, ledger.ErrInvalidState):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)
	assert.Equal(t, "200.00", h.balance(t, a))
}

func TestRefund_Ineligible(t *testing.T) {
	h := newHarness(t)
	a, _, id := approvedTransfer(t, h)

	pendingTransfer := h.create(t, transfer(a, h.account(t, "carol", "0.00"), "1.00"))
	completedDeposit := h.create(t, deposit(a, "5.00"))
	_, err := h.engine.Approve(h.ctx, completedDeposit.ID, "admin-1", "")
	require.NoError(t, err)

	record, err := h.engine.Refund(h.ctx, id, "admin-1", "")
	require.NoError(t, err)

	tests := []struct {
		name string
		id   ledger.RequestID
	}{
		{"pending transfer", pendingTransfer.ID},
		{"deposit", completedDeposit.ID},
		{"refund record", record.ID},
		{"already refunded", id},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.balance(t, a)
			_, err := h.engine.Refund(h.ctx, tt.id, "admin-1", "")
			assert.ErrorIs(t, err, ledger.ErrInvalidState)
			assert.Equal(t, before, h.balance(t, a))
		})
	}

	_, err = h.engine.Refund(h.ctx, "missing", "admin-1", "")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRefund_FrozenSource(t *testing.T) {
	h := newHarness(t)
	a, _, id := approvedTransfer(t, h)
	_, err := h.engine.SetAccountStatus(h.ctx, a, ledger.AccountFrozen, "admin-1")
	require.NoError(t, err)

	_, err = h.engine.Refund(h.ctx, id, "admin-1", "")

	assert.ErrorIs(t, err, ledger.ErrAccountFrozen)
	assert.Equal(t, "125.00", h.balance(t, a))
	assert.Equal(t, ledger.StatusCompleted, h.status(t, id))
}

func TestRefund_RecordFailureRollsBack(t *testing.T) {
	// GIVEN: A completed transfer and a repository that cannot create records
	h := newHarness(t)
	a, b, id := approvedTransfer(t, h)
	h.rewire(t, h.store, &flakyRequests{RequestRepository: h.store, createErr: errBoom})

	// WHEN: Refunded
	_, err := h.engine.Refund(h.ctx, id, "admin-1", "")

	// THEN: Status and balance are back where they started
	assert.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ledger.ErrCompensationFailed)
	assert.Equal(t, ledger.StatusCompleted, h.status(t, id))
	assert.Equal(t, "125.00", h.balance(t, a))
	assert.Equal(t, "75.00", h.balance(t, b))
}

func TestRefund_TransitionFailureUndoesCredit(t *testing.T) {
	h := newHarness(t)
	a, _, id := approvedTransfer(t, h)
	h.rewire(t, h.store, &flakyRequests{RequestRepository: h.store, transitionErr: errBoom})

	_, err := h.engine.Refund(h.ctx, id, "admin-1", "")

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, "125.00", h.balance(t, a))
	assert.Equal(t, ledger.StatusCompleted, h.status(t, id))
}
