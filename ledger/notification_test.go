package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/funds-engine/ledger"
)

func TestBuildNotification(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	threshold := ledger.DefaultHighPriorityThreshold
	withCurrency := func(r *ledger.Request) *ledger.Request {
		r.ID = "req-1"
		r.Currency = "USD"
		return r
	}

	t.Run("completed deposit", func(t *testing.T) {
		n := ledger.BuildNotification(withCurrency(deposit("a", "50.00")), ledger.OutcomeCompleted, "alice", threshold, at)

		assert.Equal(t, ledger.UserID("alice"), n.Recipient)
		assert.Equal(t, "Deposit completed", n.Title)
		assert.Equal(t, "Your deposit of 50.00 USD has been completed.", n.Message)
		assert.Equal(t, ledger.PriorityNormal, n.Priority)
		assert.Equal(t, ledger.RequestID("req-1"), n.RequestID)
		assert.Equal(t, ledger.KindDeposit, n.Kind)
		assert.True(t, at.Equal(n.CreatedAt))
	})

	t.Run("fee is mentioned", func(t *testing.T) {
		n := ledger.BuildNotification(withCurrency(withdrawal("a", "20.00", "1.50")), ledger.OutcomeCompleted, "alice", threshold, at)
		assert.Contains(t, n.Message, "A fee of 1.50 was charged.")
	})

	t.Run("rejection is high priority and carries the reason", func(t *testing.T) {
		r := withCurrency(deposit("a", "5.00"))
		r.RejectionReason = "unverified source"
		n := ledger.BuildNotification(r, ledger.OutcomeRejected, "alice", threshold, at)

		assert.Equal(t, "Deposit rejected", n.Title)
		assert.Contains(t, n.Message, "unverified source")
		assert.Equal(t, ledger.PriorityHigh, n.Priority)
	})

	t.Run("refund is high priority", func(t *testing.T) {
		n := ledger.BuildNotification(withCurrency(transfer("a", "b", "75.00")), ledger.OutcomeRefunded, "alice", threshold, at)
		assert.Equal(t, "Transfer refunded", n.Title)
		assert.Equal(t, ledger.PriorityHigh, n.Priority)
	})

	t.Run("wires are always high priority", func(t *testing.T) {
		n := ledger.BuildNotification(withCurrency(wire("a", "1.00", "0")), ledger.OutcomeCompleted, "alice", threshold, at)
		assert.Equal(t, "Wire transfer completed", n.Title)
		assert.Equal(t, ledger.PriorityHigh, n.Priority)
	})

	t.Run("large amounts are high priority", func(t *testing.T) {
		at10k := ledger.BuildNotification(withCurrency(deposit("a", "10000.00")), ledger.OutcomeCompleted, "alice", threshold, at)
		below := ledger.BuildNotification(withCurrency(deposit("a", "9999.99")), ledger.OutcomeCompleted, "alice", threshold, at)
		assert.Equal(t, ledger.PriorityHigh, at10k.Priority)
		assert.Equal(t, ledger.PriorityNormal, below.Priority)
	})

	t.Run("zero threshold disables the amount rule", func(t *testing.T) {
		n := ledger.BuildNotification(withCurrency(deposit("a", "50000.00")), ledger.OutcomeCompleted, "alice", ledger.Zero, at)
		assert.Equal(t, ledger.PriorityNormal, n.Priority)
	})

	t.Run("adjustment shows the signed delta", func(t *testing.T) {
		r := withCurrency(adjustment("a", "-12.34"))
		r.Amount = ledger.MustAmount("12.34")
		n := ledger.BuildNotification(r, ledger.OutcomeAdjusted, "bob", threshold, at)

		assert.Equal(t, "Balance adjusted", n.Title)
		assert.Contains(t, n.Message, "-12.34")
		assert.Contains(t, n.Message, "interest correction")
		assert.Equal(t, ledger.PriorityNormal, n.Priority)
	})
}
