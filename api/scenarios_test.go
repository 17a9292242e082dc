/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario sets up the expected state and that the
	approval flow behaves as the scenario description promises. These
	double as end-to-end tests of the engine through the handler.
*/
package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap/zaptest"
)

func pending(t *testing.T, s *testServer) []ledger.Request {
	t.Helper()
	reqs, err := s.store.ListPending(context.Background(), nil)
	require.NoError(t, err)
	return reqs
}

func TestScenario_SimpleDeposit(t *testing.T) {
	// GIVEN: The simple-deposit scenario
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadScenario(ctx, "simple-deposit"))

	reqs := pending(t, s)
	require.Len(t, reqs, 1)
	dep := reqs[0]
	require.NotNil(t, dep.Deposit)

	// WHEN: The deposit is approved
	_, err := s.handler.Engine.Approve(ctx, dep.ID, "ops", "")

	// THEN: 100 + 50
	require.NoError(t, err)
	bal, err := s.store.GetBalance(ctx, dep.Deposit.Destination)
	require.NoError(t, err)
	assert.Equal(t, "150.00", bal.String())
}

func TestScenario_InsufficientFunds(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadScenario(ctx, "insufficient-funds"))

	reqs := pending(t, s)
	require.Len(t, reqs, 1)

	_, err := s.handler.Engine.Approve(ctx, reqs[0].ID, "ops", "")

	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Len(t, pending(t, s), 1)
}

func TestScenario_TransferRefund(t *testing.T) {
	// GIVEN: A pending 75.00 transfer from A (200.00) to B (0.00)
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadScenario(ctx, "transfer-refund"))
	reqs := pending(t, s)
	require.Len(t, reqs, 1)
	transfer := reqs[0]
	a, b := transfer.Internal.Source, transfer.Internal.Destination

	// WHEN: Approved then refunded
	_, err := s.handler.Engine.Approve(ctx, transfer.ID, "ops", "")
	require.NoError(t, err)
	_, err = s.handler.Engine.Refund(ctx, transfer.ID, "ops", "customer dispute")
	require.NoError(t, err)

	// THEN: A is made whole; B keeps the transfer
	balA, _ := s.store.GetBalance(ctx, a)
	balB, _ := s.store.GetBalance(ctx, b)
	assert.Equal(t, "200.00", balA.String())
	assert.Equal(t, "75.00", balB.String())

	// AND: The ledger still reconciles
	report, err := s.handler.Reconciliation.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
}

func TestScenario_MixedBackoffice(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, s.handler.loadScenario(ctx, "mixed-backoffice"))

	reqs := pending(t, s)
	kinds := map[ledger.Kind]bool{}
	for _, r := range reqs {
		kinds[r.Kind] = true
	}
	assert.Len(t, reqs, len(ledger.Kinds))
	for _, k := range ledger.Kinds {
		assert.True(t, kinds[k], "missing %s", k)
	}

	// Every request can be approved from the seeded balances.
	for _, r := range reqs {
		_, err := s.handler.Engine.Approve(ctx, r.ID, "ops", "")
		assert.NoError(t, err, r.Kind)
	}
	report, err := s.handler.Reconciliation.RunNow(ctx)
	require.NoError(t, err)
	assert.True(t, report.Balanced())
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, s.handler.loadScenario(ctx, "mixed-backoffice"))
	require.NoError(t, s.handler.loadScenario(ctx, "simple-deposit"))

	accounts, err := s.store.ListAccounts(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.Len(t, pending(t, s), 1)
}

func TestScenario_HTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/scenarios", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), len(scenarios))

	rec = s.do(http.MethodPost, "/api/scenarios/load", s.admin, LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/scenarios/load", s.admin, LoadScenarioRequest{ScenarioID: "transfer-refund"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodGet, "/api/scenarios/current", s.admin, nil)
	assert.Equal(t, "transfer-refund", decode[ScenarioDTO](t, rec).ID)

	rec = s.do(http.MethodPost, "/api/scenarios/load", s.alice, LoadScenarioRequest{ScenarioID: "transfer-refund"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestScenario_NotMountedOutsideDevelopment(t *testing.T) {
	s := newTestServer(t)
	s.router = NewRouter(s.handler, NewAuthenticator("test-secret", "funds-engine"), RouterOptions{})

	rec := s.do(http.MethodGet, "/api/scenarios", s.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SCHEDULER
// =============================================================================

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.handler.loadScenario(context.Background(), "simple-deposit"))

	sched := NewReconciliationScheduler(ledger.NewReconciler(s.store, s.store), zaptest.NewLogger(t))
	sched.CheckInterval = time.Hour
	sched.Start()
	sched.Start()

	require.Eventually(t, func() bool { return sched.LastReport() != nil }, time.Second, 5*time.Millisecond)
	sched.Stop()
	sched.Stop()

	report := sched.LastReport()
	assert.True(t, report.Balanced())
	assert.Equal(t, 1, report.AccountsChecked)
}

func TestScheduler_Disabled(t *testing.T) {
	s := newTestServer(t)
	sched := NewReconciliationScheduler(ledger.NewReconciler(s.store, s.store), zaptest.NewLogger(t))
	sched.Enabled = false

	sched.Start()
	sched.Stop()

	assert.Nil(t, sched.LastReport())
}

func TestScheduler_RunNowReportsDrift(t *testing.T) {
	// GIVEN: An account whose balance was changed behind the engine's back
	s := newTestServer(t)
	ctx := context.Background()
	acct, err := s.handler.Engine.OpenAccount(ctx, "alice", ledger.AccountChecking, ledger.MustAmount("10"))
	require.NoError(t, err)
	_, err = s.store.ApplyDelta(ctx, acct.ID, ledger.MustAmount("0.01"), ledger.DeltaOptions{})
	require.NoError(t, err)

	// WHEN: Reconciling
	report, err := s.handler.Reconciliation.RunNow(ctx)

	// THEN: The drift is reported and kept
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, "0.01", report.Drifts[0].Drift.String())
	assert.Same(t, report, s.handler.Reconciliation.LastReport())
}
