/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with accounts and
	pending requests so the back-office approval flow can be tried end to
	end. Everything is created through the engine, exactly as a client
	would.

AVAILABLE SCENARIOS:

	simple-deposit:     Alice (100.00) has a pending 50.00 card deposit
	insufficient-funds: Bob (30.00) has a pending 50.00 withdrawal
	transfer-refund:    A (200.00) to B (0.00), pending 75.00 transfer
	mixed-backoffice:   One pending request of every kind

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Open accounts with opening balances
 3. Create pending requests

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "transfer-refund"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to loadScenario

NOTE:

	Scenarios reset the store. The route is only mounted in development.

SEE ALSO:
  - handlers.go: Request endpoints used after loading
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "simple-deposit",
		Name:        "Simple Deposit",
		Description: "Checking account with 100.00 and a pending 50.00 card deposit",
	},
	{
		ID:          "insufficient-funds",
		Name:        "Insufficient Funds",
		Description: "Checking account with 30.00 and a pending 50.00 withdrawal that cannot be approved",
	},
	{
		ID:          "transfer-refund",
		Name:        "Transfer & Refund",
		Description: "Pending 75.00 internal transfer from A (200.00) to B (0.00), ready to approve then refund",
	},
	{
		ID:          "mixed-backoffice",
		Name:        "Mixed Back Office",
		Description: "One pending request of every kind across three accounts",
	},
}

// ErrResetUnsupported is returned when the store cannot be wiped.
var ErrResetUnsupported = errors.New("store does not support reset")

// Resetter is implemented by stores that can drop all data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	resetter, ok := h.Store.(Resetter)
	if !ok {
		return ErrResetUnsupported
	}
	if err := resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""

	var err error
	switch id {
	case "simple-deposit":
		err = h.loadSimpleDepositScenario(ctx)
	case "insufficient-funds":
		err = h.loadInsufficientFundsScenario(ctx)
	case "transfer-refund":
		err = h.loadTransferRefundScenario(ctx)
	case "mixed-backoffice":
		err = h.loadMixedBackofficeScenario(ctx)
	default:
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err != nil {
		return err
	}

	h.currentScenario = id
	h.Logger.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSimpleDepositScenario(ctx context.Context) error {
	alice, err := h.open(ctx, "alice", ledger.AccountChecking, "100.00")
	if err != nil {
		return err
	}
	return h.submit(ctx, &ledger.Request{
		Kind:        ledger.KindDeposit,
		RequestedBy: "alice",
		Amount:      ledger.MustAmount("50.00"),
		Description: "Card top-up",
		Deposit:     &ledger.Deposit{Destination: alice, Method: ledger.MethodCard},
	})
}

func (h *Handler) loadInsufficientFundsScenario(ctx context.Context) error {
	bob, err := h.open(ctx, "bob", ledger.AccountChecking, "30.00")
	if err != nil {
		return err
	}
	return h.submit(ctx, &ledger.Request{
		Kind:        ledger.KindWithdrawal,
		RequestedBy: "bob",
		Amount:      ledger.MustAmount("50.00"),
		Description: "Rent",
		Withdrawal: &ledger.Withdrawal{
			Source:                 bob,
			DestinationDescription: "Chase ****4521",
			Method:                 ledger.MethodBank,
		},
	})
}

func (h *Handler) loadTransferRefundScenario(ctx context.Context) error {
	a, err := h.open(ctx, "alice", ledger.AccountChecking, "200.00")
	if err != nil {
		return err
	}
	b, err := h.open(ctx, "bob", ledger.AccountChecking, "0.00")
	if err != nil {
		return err
	}
	return h.submit(ctx, &ledger.Request{
		Kind:        ledger.KindInternalTransfer,
		RequestedBy: "alice",
		Amount:      ledger.MustAmount("75.00"),
		Description: "Dinner split",
		Internal:    &ledger.InternalTransfer{Source: a, Destination: b},
	})
}

func (h *Handler) loadMixedBackofficeScenario(ctx context.Context) error {
	checking, err := h.open(ctx, "alice", ledger.AccountChecking, "5000.00")
	if err != nil {
		return err
	}
	savings, err := h.open(ctx, "alice", ledger.AccountSavings, "1000.00")
	if err != nil {
		return err
	}
	business, err := h.open(ctx, "bob", ledger.AccountBusiness, "20000.00")
	if err != nil {
		return err
	}

	requests := []*ledger.Request{
		{
			Kind:        ledger.KindInternalTransfer,
			RequestedBy: "alice",
			Amount:      ledger.MustAmount("250.00"),
			Description: "Move to savings",
			Internal:    &ledger.InternalTransfer{Source: checking, Destination: savings},
		},
		{
			Kind:        ledger.KindExternalTransfer,
			RequestedBy: "alice",
			Amount:      ledger.MustAmount("400.00"),
			Fee:         ledger.MustAmount("1.00"),
			Description: "Same-day ACH to brokerage",
			External: &ledger.ExternalTransfer{
				Account:         checking,
				Direction:       ledger.Outbound,
				SubType:         ledger.SubTypeSameDayACH,
				BankName:        "Fidelity",
				RoutingNumber:   "101205681",
				ExternalAccount: "Z12345678",
			},
		},
		{
			Kind:        ledger.KindWireTransfer,
			RequestedBy: "bob",
			Amount:      ledger.MustAmount("12500.00"),
			Fee:         ledger.MustAmount("45.00"),
			Description: "Supplier invoice 2025-118",
			Wire: &ledger.WireTransfer{
				Source:           business,
				RecipientName:    "Kessler Maschinenbau GmbH",
				RecipientBank:    "Commerzbank",
				RoutingOrSWIFT:   "COBADEFF",
				RecipientAddress: "Kaiserplatz 1, 60311 Frankfurt",
				Type:             ledger.WireInternational,
			},
		},
		{
			Kind:        ledger.KindDeposit,
			RequestedBy: "bob",
			Amount:      ledger.MustAmount("3200.00"),
			Description: "Customer check",
			Deposit:     &ledger.Deposit{Destination: business, Method: ledger.MethodCheck},
		},
		{
			Kind:        ledger.KindWithdrawal,
			RequestedBy: "alice",
			Amount:      ledger.MustAmount("300.00"),
			Fee:         ledger.MustAmount("2.50"),
			Description: "ATM cash",
			Withdrawal: &ledger.Withdrawal{
				Source:                 checking,
				DestinationDescription: "Branch 12 teller",
				Method:                 ledger.MethodCash,
			},
		},
		{
			Kind:        ledger.KindBalanceAdjustment,
			RequestedBy: "ops",
			Amount:      ledger.MustAmount("35.00"),
			Description: "Overdraft fee reversal",
			Adjustment: &ledger.BalanceAdjustment{
				Target:    savings,
				Delta:     ledger.MustAmount("35.00"),
				Rationale: "Overdraft fee charged in error",
			},
		},
	}
	for _, req := range requests {
		if err := h.submit(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) open(ctx context.Context, owner ledger.UserID, kind ledger.AccountKind, balance string) (ledger.AccountID, error) {
	acct, err := h.Engine.OpenAccount(ctx, owner, kind, ledger.MustAmount(balance))
	if err != nil {
		return "", fmt.Errorf("open account for %s: %w", owner, err)
	}
	return acct.ID, nil
}

func (h *Handler) submit(ctx context.Context, req *ledger.Request) error {
	if _, err := h.Engine.CreateRequest(ctx, req); err != nil {
		return fmt.Errorf("create %s: %w", req.Kind, err)
	}
	return nil
}
