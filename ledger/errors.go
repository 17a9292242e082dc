/*
errors.go - Centralized error types for the funds engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Stores and the engine return these; the API maps them to HTTP status
  codes and administrator-facing messages.

ERROR CATEGORIES:
  1. Client errors - Validation, NotFound, InvalidState
  2. Race errors - Conflict (lost the compare-and-swap; refresh and retry)
  3. Ledger errors - InsufficientFunds, AccountFrozen, AccountClosed
  4. Compensation errors - an undo step failed after a partial mutation

USAGE:
  if errors.Is(err, ledger.ErrConflict) {
      // another administrator processed the request first
  }

  var funds *ledger.InsufficientFundsError
  if errors.As(err, &funds) {
      log.Printf("short by %s", funds.Required.Sub(funds.Available))
  }

SEE ALSO:
  - engine.go: Returns these errors
  - store.go: Store contract that produces them
  - api/handlers.go: Maps them to HTTP responses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a request or account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when an action targets a request that is
	// not in an eligible status (approving a completed request).
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict is returned when another actor won the status
	// compare-and-swap. Expected under concurrency.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientFunds is returned when a debit would overdraw.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountFrozen is returned when a ledger mutation targets a frozen account.
	ErrAccountFrozen = errors.New("account frozen")

	// ErrAccountClosed is returned when a ledger mutation targets a closed account.
	ErrAccountClosed = errors.New("account closed")

	// ErrDuplicate is returned when creating a record whose id already exists.
	ErrDuplicate = errors.New("duplicate record")

	// ErrCompensationFailed is returned when undoing a partial mutation failed.
	// The ledger needs manual reconciliation.
	ErrCompensationFailed = errors.New("compensation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Entity string // "request" or "account"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError reports an action attempted against an ineligible status.
type InvalidStateError struct {
	RequestID RequestID
	Status    Status
	Action    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s request %s in status %s", e.Action, e.RequestID, e.Status)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConflictError reports a lost compare-and-swap, or a request another
// engine has claimed (Claimed set, statuses empty).
type ConflictError struct {
	RequestID RequestID
	Expected  Status
	Actual    Status
	Claimed   bool
}

func (e *ConflictError) Error() string {
	if e.Claimed {
		return fmt.Sprintf("request %s is being processed by another administrator", e.RequestID)
	}
	return fmt.Sprintf("request %s changed concurrently: expected %s, found %s",
		e.RequestID, e.Expected, e.Actual)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available Amount
	Required  Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, required %s",
		e.AccountID, e.Available, e.Required)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

type AccountFrozenError struct {
	AccountID AccountID
}

func (e *AccountFrozenError) Error() string {
	return fmt.Sprintf("account %s is frozen", e.AccountID)
}

func (e *AccountFrozenError) Unwrap() error { return ErrAccountFrozen }

type AccountClosedError struct {
	AccountID AccountID
}

func (e *AccountClosedError) Error() string {
	return fmt.Sprintf("account %s is closed", e.AccountID)
}

func (e *AccountClosedError) Unwrap() error { return ErrAccountClosed }

// CompensationError carries both the failure that triggered the undo and
// the failure of the undo itself. errors.Is matches either, plus
// ErrCompensationFailed.
type CompensationError struct {
	Op              string
	Cause           error
	CompensationErr error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s failed (%v) and compensation failed: %v", e.Op, e.Cause, e.CompensationErr)
}

func (e *CompensationError) Unwrap() []error {
	return []error{ErrCompensationFailed, e.Cause, e.CompensationErr}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the caller should refresh and re-evaluate.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input
// or an ineligible target.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrDuplicate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccountStateError returns true for frozen/closed/overdraw refusals.
func IsAccountStateError(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountFrozen) ||
		errors.Is(err, ErrAccountClosed)
}

// Code returns a stable machine-readable error kind.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCompensationFailed):
		return "compensation_failed"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountFrozen):
		return "account_frozen"
	case errors.Is(err, ErrAccountClosed):
		return "account_closed"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	default:
		return "internal"
	}
}

// UserMessage returns the actionable message shown to administrators.
func UserMessage(err error) string {
	switch Code(err) {
	case "validation":
		var v *ValidationError
		if errors.As(err, &v) {
			return v.Error()
		}
		return "invalid input"
	case "not_found":
		return "not found: refresh the list"
	case "invalid_state":
		return "request is no longer pending: cannot process"
	case "conflict":
		return "another administrator already processed this request: refresh and re-evaluate"
	case "insufficient_funds":
		return "insufficient funds: cannot approve"
	case "account_frozen":
		return "account is frozen: unfreeze it before processing"
	case "account_closed":
		return "account is closed: request cannot be processed"
	case "duplicate":
		return "record already exists"
	case "compensation_failed":
		return "operation failed and could not be fully undone: reconcile the ledger"
	default:
		return "internal error"
	}
}
