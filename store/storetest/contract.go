/*
Package storetest is the contract every ledger.Store implementation must
satisfy. Backend tests call Run with a constructor for a fresh, empty store.

COVERS:
  - Account CRUD and status changes
  - ApplyDelta atomicity under concurrent callers, frozen/closed guards,
    sufficient-funds guard, compensating bypass, int64-cents range guard
  - Request round-trips for all six kinds
  - Transition compare-and-swap, including concurrent winners
  - Request claims: exclusivity, release, lease expiry
  - Listing order and filters
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) ledger.Store

// Run executes the full contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("ApplyDelta", func(t *testing.T) { testApplyDelta(t, newStore(t)) })
	t.Run("ApplyDeltaRange", func(t *testing.T) { testApplyDeltaRange(t, newStore(t)) })
	t.Run("ApplyDeltaConcurrent", func(t *testing.T) { testApplyDeltaConcurrent(t, newStore(t)) })
	t.Run("RequestRoundTrip", func(t *testing.T) { testRequestRoundTrip(t, newStore(t)) })
	t.Run("ListPending", func(t *testing.T) { testListPending(t, newStore(t)) })
	t.Run("ListFilter", func(t *testing.T) { testListFilter(t, newStore(t)) })
	t.Run("Transition", func(t *testing.T) { testTransition(t, newStore(t)) })
	t.Run("TransitionConcurrent", func(t *testing.T) { testTransitionConcurrent(t, newStore(t)) })
	t.Run("Claim", func(t *testing.T) { testClaim(t, newStore(t)) })
}

var base = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

// Account inserts an active account with the given balance.
func Account(t *testing.T, s ledger.AccountStore, owner ledger.UserID, balance string) ledger.Account {
	t.Helper()
	amt := ledger.MustAmount(balance)
	acct := ledger.Account{
		ID:             ledger.NewAccountID(),
		OwnerID:        owner,
		Kind:           ledger.AccountChecking,
		Currency:       "USD",
		Balance:        amt,
		OpeningBalance: amt,
		Status:         ledger.AccountActive,
		CreatedAt:      base,
		UpdatedAt:      base,
	}
	require.NoError(t, s.CreateAccount(context.Background(), acct))
	return acct
}

func pendingDeposit(dst ledger.AccountID, amount string, at time.Time) *ledger.Request {
	return &ledger.Request{
		ID:          ledger.NewRequestID(),
		Kind:        ledger.KindDeposit,
		RequestedBy: "user-1",
		Amount:      ledger.MustAmount(amount),
		Currency:    "USD",
		Status:      ledger.StatusPending,
		CreatedAt:   at,
		UpdatedAt:   at,
		Deposit:     &ledger.Deposit{Destination: dst, Method: ledger.MethodBank},
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func testAccounts(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := Account(t, s, "alice", "100.00")
	Account(t, s, "bob", "5.00")

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.OwnerID, got.OwnerID)
	assert.Equal(t, ledger.AccountChecking, got.Kind)
	assert.Equal(t, "100.00", got.Balance.String())
	assert.Equal(t, "100.00", got.OpeningBalance.String())
	assert.Equal(t, ledger.AccountActive, got.Status)

	err = s.CreateAccount(ctx, a)
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	_, err = s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = s.GetBalance(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	all, err := s.ListAccounts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	owner := ledger.UserID("alice")
	mine, err := s.ListAccounts(ctx, &owner)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, a.ID, mine[0].ID)

	frozen, err := s.SetAccountStatus(ctx, a.ID, ledger.AccountFrozen)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountFrozen, frozen.Status)
	assert.Equal(t, "100.00", frozen.Balance.String())

	_, err = s.SetAccountStatus(ctx, "missing", ledger.AccountFrozen)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testApplyDelta(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := Account(t, s, "alice", "100.00")

	bal, err := s.ApplyDelta(ctx, a.ID, ledger.MustAmount("50.25"), ledger.DeltaOptions{})
	require.NoError(t, err)
	assert.Equal(t, "150.25", bal.String())

	bal, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("-0.25"), ledger.DeltaOptions{})
	require.NoError(t, err)
	assert.Equal(t, "150.00", bal.String())

	// Unguarded debits may overdraw.
	bal, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("-200.00"), ledger.DeltaOptions{})
	require.NoError(t, err)
	assert.Equal(t, "-50.00", bal.String())
	_, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("200.00"), ledger.DeltaOptions{})
	require.NoError(t, err)

	// Guarded debits may not, and apply nothing on refusal.
	_, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("-150.01"), ledger.DeltaOptions{RequireSufficientFunds: true})
	var funds *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.Equal(t, a.ID, funds.AccountID)
	assert.Equal(t, "150.00", funds.Available.String())
	assert.Equal(t, "150.01", funds.Required.String())
	assertBalance(t, s, a.ID, "150.00")

	bal, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("-150.00"), ledger.DeltaOptions{RequireSufficientFunds: true})
	require.NoError(t, err)
	assert.Equal(t, "0.00", bal.String())

	_, err = s.ApplyDelta(ctx, "missing", ledger.MustAmount("1.00"), ledger.DeltaOptions{})
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = s.SetAccountStatus(ctx, a.ID, ledger.AccountFrozen)
	require.NoError(t, err)
	_, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("1.00"), ledger.DeltaOptions{})
	assert.ErrorIs(t, err, ledger.ErrAccountFrozen)
	assertBalance(t, s, a.ID, "0.00")

	bal, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("1.00"), ledger.DeltaOptions{Compensating: true})
	require.NoError(t, err)
	assert.Equal(t, "1.00", bal.String())

	_, err = s.SetAccountStatus(ctx, a.ID, ledger.AccountClosed)
	require.NoError(t, err)
	_, err = s.ApplyDelta(ctx, a.ID, ledger.MustAmount("1.00"), ledger.DeltaOptions{})
	assert.ErrorIs(t, err, ledger.ErrAccountClosed)
}

func testApplyDeltaRange(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	rich := Account(t, s, "alice", "92233720368547758.00")
	poor := Account(t, s, "bob", "-92233720368547758.00")

	// A credit past the maximum is refused and applies nothing.
	_, err := s.ApplyDelta(ctx, rich.ID, ledger.MustAmount("0.08"), ledger.DeltaOptions{})
	require.ErrorIs(t, err, ledger.ErrValidation)
	assertBalance(t, s, rich.ID, "92233720368547758.00")

	bal, err := s.ApplyDelta(ctx, rich.ID, ledger.MustAmount("0.07"), ledger.DeltaOptions{})
	require.NoError(t, err)
	assert.True(t, bal.Equal(ledger.MaxAmount))

	// Same at the bottom, including for compensating deltas.
	_, err = s.ApplyDelta(ctx, poor.ID, ledger.MustAmount("-0.08"), ledger.DeltaOptions{Compensating: true})
	require.ErrorIs(t, err, ledger.ErrValidation)
	assertBalance(t, s, poor.ID, "-92233720368547758.00")

	// A delta that is itself unstorable never reaches the balance.
	_, err = s.ApplyDelta(ctx, poor.ID, ledger.MaxAmount.Add(ledger.MustAmount("1")), ledger.DeltaOptions{})
	require.ErrorIs(t, err, ledger.ErrValidation)
	assertBalance(t, s, poor.ID, "-92233720368547758.00")
}

func testApplyDeltaConcurrent(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := Account(t, s, "alice", "100.00")

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.ApplyDelta(ctx, a.ID, ledger.MustAmount("1.00"), ledger.DeltaOptions{})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := s.ApplyDelta(ctx, a.ID, ledger.MustAmount("-0.50"), ledger.DeltaOptions{RequireSufficientFunds: true})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assertBalance(t, s, a.ID, "125.00")
}

// =============================================================================
// REQUESTS
// =============================================================================

// SampleRequests returns one pending request of every kind.
func SampleRequests(src, dst ledger.AccountID, at time.Time) []*ledger.Request {
	mk := func(kind ledger.Kind, amount string, offset time.Duration) *ledger.Request {
		return &ledger.Request{
			ID:          ledger.NewRequestID(),
			Kind:        kind,
			RequestedBy: "user-1",
			Amount:      ledger.MustAmount(amount),
			Currency:    "USD",
			Status:      ledger.StatusPending,
			Description: string(kind) + " sample",
			CreatedAt:   at.Add(offset),
			UpdatedAt:   at.Add(offset),
		}
	}

	internal := mk(ledger.KindInternalTransfer, "75.00", 0)
	internal.Internal = &ledger.InternalTransfer{Source: src, Destination: dst}

	external := mk(ledger.KindExternalTransfer, "20.00", time.Second)
	external.Fee = ledger.MustAmount("1.50")
	external.External = &ledger.ExternalTransfer{
		Account: src, Direction: ledger.Outbound, SubType: ledger.SubTypeSameDayACH,
		BankName: "First Bank", RoutingNumber: "021000021", ExternalAccount: "9876543210",
	}

	wire := mk(ledger.KindWireTransfer, "250.00", 2*time.Second)
	wire.Fee = ledger.MustAmount("25.00")
	wire.Wire = &ledger.WireTransfer{
		Source: src, RecipientName: "Acme GmbH", RecipientBank: "Deutsche Bank",
		RoutingOrSWIFT: "DEUTDEFF", RecipientAddress: "Taunusanlage 12, Frankfurt",
		Type: ledger.WireInternational,
	}

	deposit := mk(ledger.KindDeposit, "50.00", 3*time.Second)
	deposit.Deposit = &ledger.Deposit{Destination: dst, Method: ledger.MethodCheck}

	withdrawal := mk(ledger.KindWithdrawal, "40.00", 4*time.Second)
	withdrawal.Withdrawal = &ledger.Withdrawal{
		Source: src, DestinationDescription: "ATM 221 Main St", Method: ledger.MethodCash,
	}

	adjustment := mk(ledger.KindBalanceAdjustment, "12.34", 5*time.Second)
	adjustment.Adjustment = &ledger.BalanceAdjustment{
		Target: dst, Delta: ledger.MustAmount("-12.34"), Rationale: "duplicate fee reversal",
	}

	return []*ledger.Request{internal, external, wire, deposit, withdrawal, adjustment}
}

func testRequestRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	src := Account(t, s, "alice", "500.00")
	dst := Account(t, s, "bob", "0.00")

	for _, want := range SampleRequests(src.ID, dst.ID, base) {
		t.Run(string(want.Kind), func(t *testing.T) {
			require.NoError(t, s.Create(ctx, want))

			got, err := s.Get(ctx, want.ID)
			require.NoError(t, err)
			assertRequestEqual(t, want, got)

			err = s.Create(ctx, want)
			assert.ErrorIs(t, err, ledger.ErrDuplicate)
		})
	}

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testListPending(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	src := Account(t, s, "alice", "500.00")
	dst := Account(t, s, "bob", "0.00")

	samples := SampleRequests(src.ID, dst.ID, base)
	for _, r := range samples {
		require.NoError(t, s.Create(ctx, r))
	}
	_, err := s.Transition(ctx, samples[0].ID, ledger.StatusPending, ledger.StatusCompleted, ledger.TransitionMeta{})
	require.NoError(t, err)

	pending, err := s.ListPending(ctx, nil)
	require.NoError(t, err)
	require.Len(t, pending, len(samples)-1)
	// Newest first: samples were created one second apart.
	for i, r := range pending {
		assert.Equal(t, samples[len(samples)-1-i].ID, r.ID)
		assert.Equal(t, ledger.StatusPending, r.Status)
	}

	kind := ledger.KindWireTransfer
	wires, err := s.ListPending(ctx, &kind)
	require.NoError(t, err)
	require.Len(t, wires, 1)
	assert.Equal(t, samples[2].ID, wires[0].ID)
	require.NotNil(t, wires[0].Wire)
	assert.Equal(t, "Acme GmbH", wires[0].Wire.RecipientName)
}

func testListFilter(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	src := Account(t, s, "alice", "500.00")
	dst := Account(t, s, "bob", "0.00")
	other := Account(t, s, "carol", "0.00")

	for _, r := range SampleRequests(src.ID, dst.ID, base) {
		require.NoError(t, s.Create(ctx, r))
	}
	lone := pendingDeposit(other.ID, "9.99", base.Add(time.Minute))
	lone.RequestedBy = "carol"
	require.NoError(t, s.Create(ctx, lone))

	all, err := s.List(ctx, ledger.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, lone.ID, all[0].ID)

	byAccount, err := s.List(ctx, ledger.RequestFilter{Account: other.ID})
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, lone.ID, byAccount[0].ID)

	byUser, err := s.List(ctx, ledger.RequestFilter{RequestedBy: "carol"})
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	search, err := s.List(ctx, ledger.RequestFilter{Search: "deutsche"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, ledger.KindWireTransfer, search[0].Kind)

	kinds, err := s.List(ctx, ledger.RequestFilter{Kinds: []ledger.Kind{ledger.KindDeposit}})
	require.NoError(t, err)
	assert.Len(t, kinds, 2)

	page, err := s.List(ctx, ledger.RequestFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)
	assert.Equal(t, all[2].ID, page[1].ID)

	none, err := s.List(ctx, ledger.RequestFilter{Statuses: []ledger.Status{ledger.StatusRefunded}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testTransition(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := Account(t, s, "alice", "0.00")
	req := pendingDeposit(a.ID, "10.00", base)
	require.NoError(t, s.Create(ctx, req))

	processedAt := base.Add(time.Hour)
	got, err := s.Transition(ctx, req.ID, ledger.StatusPending, ledger.StatusCompleted, ledger.TransitionMeta{
		ProcessedBy: "admin-1",
		ProcessedAt: &processedAt,
		Notes:       "verified",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, got.Status)
	assert.Equal(t, ledger.ProcessorID("admin-1"), got.ProcessedBy)
	require.NotNil(t, got.ProcessedAt)
	assert.True(t, processedAt.Equal(*got.ProcessedAt))
	assert.Equal(t, "verified", got.Notes)

	// Stale expectation loses.
	_, err = s.Transition(ctx, req.ID, ledger.StatusPending, ledger.StatusRejected, ledger.TransitionMeta{RejectionReason: "late"})
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ledger.StatusPending, conflict.Expected)
	assert.Equal(t, ledger.StatusCompleted, conflict.Actual)

	stored, err := s.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCompleted, stored.Status)
	assert.Empty(t, stored.RejectionReason)

	// Empty meta keeps earlier audit fields.
	got, err = s.Transition(ctx, req.ID, ledger.StatusCompleted, ledger.StatusRefunded, ledger.TransitionMeta{})
	require.NoError(t, err)
	assert.Equal(t, ledger.ProcessorID("admin-1"), got.ProcessedBy)
	assert.Equal(t, "verified", got.Notes)

	_, err = s.Transition(ctx, "missing", ledger.StatusPending, ledger.StatusCompleted, ledger.TransitionMeta{})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testTransitionConcurrent(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := Account(t, s, "alice", "0.00")
	req := pendingDeposit(a.ID, "10.00", base)
	require.NoError(t, s.Create(ctx, req))

	const n = 10
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.Transition(ctx, req.ID, ledger.StatusPending, ledger.StatusCompleted, ledger.TransitionMeta{
				ProcessedBy: ledger.ProcessorID(fmt.Sprintf("admin-%d", i)),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ledger.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
}

// =============================================================================
// ASSERTIONS
// =============================================================================

func testClaim(t *testing.T, s ledger.Store) {
	ctx := context.Background()
	a := Account(t, s, "alice", "0.00")
	req := pendingDeposit(a.ID, "1.00", base)
	require.NoError(t, s.Create(ctx, req))

	require.NoError(t, s.Claim(ctx, req.ID, "engine-1", time.Minute))

	// The holder may renew; anyone else is turned away.
	require.NoError(t, s.Claim(ctx, req.ID, "engine-1", time.Minute))
	err := s.Claim(ctx, req.ID, "engine-2", time.Minute)
	var conflict *ledger.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.Claimed)
	assert.Equal(t, req.ID, conflict.RequestID)

	// Releasing someone else's claim does nothing.
	require.NoError(t, s.Release(ctx, req.ID, "engine-2"))
	assert.ErrorIs(t, s.Claim(ctx, req.ID, "engine-2", time.Minute), ledger.ErrConflict)

	require.NoError(t, s.Release(ctx, req.ID, "engine-1"))
	require.NoError(t, s.Claim(ctx, req.ID, "engine-2", -time.Second))

	// An expired lease is taken over.
	require.NoError(t, s.Claim(ctx, req.ID, "engine-3", time.Minute))
	assert.ErrorIs(t, s.Claim(ctx, req.ID, "engine-2", time.Minute), ledger.ErrConflict)

	assert.ErrorIs(t, s.Claim(ctx, "missing", "engine-1", time.Minute), ledger.ErrNotFound)
}

func assertBalance(t *testing.T, s ledger.AccountStore, id ledger.AccountID, want string) {
	t.Helper()
	bal, err := s.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, bal.String())
}

func assertRequestEqual(t *testing.T, want, got *ledger.Request) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.RequestedBy, got.RequestedBy)
	assert.Equal(t, want.Amount.String(), got.Amount.String())
	assert.Equal(t, want.Fee.String(), got.Fee.String())
	assert.Equal(t, want.Currency, got.Currency)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Description, got.Description)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", want.CreatedAt, got.CreatedAt)
	assert.Equal(t, want.Internal, got.Internal)
	assert.Equal(t, want.External, got.External)
	assert.Equal(t, want.Wire, got.Wire)
	assert.Equal(t, want.Deposit, got.Deposit)
	assert.Equal(t, want.Withdrawal, got.Withdrawal)
	if want.Adjustment != nil {
		require.NotNil(t, got.Adjustment)
		assert.Equal(t, want.Adjustment.Target, got.Adjustment.Target)
		assert.Equal(t, want.Adjustment.Delta.String(), got.Adjustment.Delta.String())
		assert.Equal(t, want.Adjustment.Rationale, got.Adjustment.Rationale)
	} else {
		assert.Nil(t, got.Adjustment)
	}
}
