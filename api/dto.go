/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, OpenAccountRequest, AdjustmentRequest

  Requests:
    factory.RequestJSON (rendered by the request factory),
    RequestListDTO, ApproveRequest, RejectRequest, RefundRequest

  Reconciliation:
    ReconciliationDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/request.go: RequestJSON type
*/
package api

import (
	"time"

	"github.com/warp/funds-engine/factory"
	"github.com/warp/funds-engine/ledger"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	Kind           string        `json:"kind"`
	Currency       string        `json:"currency"`
	Balance        ledger.Amount `json:"balance"`
	OpeningBalance ledger.Amount `json:"opening_balance"`
	Status         string        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// OpenAccountRequest is the body of POST /api/accounts.
type OpenAccountRequest struct {
	OwnerID        string        `json:"owner_id"`
	Kind           string        `json:"kind"`
	OpeningBalance ledger.Amount `json:"opening_balance"`
}

// AdjustmentRequest is the body of POST /api/accounts/{id}/adjustments.
// Delta is signed.
type AdjustmentRequest struct {
	Delta ledger.Amount `json:"delta"`
	Note  string        `json:"note"`
}

// =============================================================================
// REQUESTS
// =============================================================================

type RequestListDTO struct {
	Requests []factory.RequestJSON `json:"requests"`
	Count    int                   `json:"count"`
}

type ApproveRequest struct {
	Notes string `json:"notes"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// RECONCILIATION & SCENARIOS
// =============================================================================

// ReconciliationDTO wraps a report with its verdict.
type ReconciliationDTO struct {
	Balanced bool `json:"balanced"`
	*ledger.ReconciliationReport
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		OwnerID:        string(a.OwnerID),
		Kind:           string(a.Kind),
		Currency:       a.Currency,
		Balance:        a.Balance,
		OpeningBalance: a.OpeningBalance,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func toReconciliationDTO(r *ledger.ReconciliationReport) *ReconciliationDTO {
	if r == nil {
		return nil
	}
	return &ReconciliationDTO{Balanced: r.Balanced(), ReconciliationReport: r}
}
