/*
store.go - Persistence interfaces for accounts and requests

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never reads a balance, computes, and writes it back: every balance
  change is one ApplyDelta call, and every status change is one
  compare-and-swap Transition call.

KEY INTERFACES:
  AccountStore:      Account records and the atomic delta primitive
  RequestRepository: Six request kinds behind one read/write surface
  Store:             Both, as implemented by every backend

CONCURRENCY CONTRACT:
  - ApplyDelta on one account is linearizable; concurrent deltas never
    lose an update.
  - Transition succeeds only if the stored status still equals the
    expected one. This is what keeps a request from being decided twice.
  - Claim is held by one engine from the first balance read to the final
    Transition, across processes sharing the store, so a second
    administrator is turned away before reading balances the first one
    is changing.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go: SQLite (one table per request kind)
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - store/storetest: Contract tests every implementation runs
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ACCOUNT STORE
// =============================================================================

// DeltaOptions tunes ApplyDelta.
type DeltaOptions struct {
	// RequireSufficientFunds makes the add conditional on the resulting
	// balance being non-negative. On failure nothing is applied and an
	// *InsufficientFundsError is returned.
	RequireSufficientFunds bool

	// Compensating skips the frozen/closed guard. Only used to undo a
	// delta the same operation applied moments earlier.
	Compensating bool
}

type AccountStore interface {
	// CreateAccount persists a new account. Returns ErrDuplicate if the id exists.
	CreateAccount(ctx context.Context, acct Account) error

	// GetAccount returns the account or a *NotFoundError.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// ListAccounts returns accounts, optionally restricted to one owner.
	ListAccounts(ctx context.Context, owner *UserID) ([]Account, error)

	// GetBalance returns the current balance or a *NotFoundError.
	GetBalance(ctx context.Context, id AccountID) (Amount, error)

	// ApplyDelta atomically adds delta to the balance and returns the new
	// balance. Fails with *AccountFrozenError, *AccountClosedError,
	// *NotFoundError or (when requested) *InsufficientFundsError.
	ApplyDelta(ctx context.Context, id AccountID, delta Amount, opts DeltaOptions) (Amount, error)

	// SetAccountStatus changes the account status. Never touches the balance.
	SetAccountStatus(ctx context.Context, id AccountID, status AccountStatus) (*Account, error)
}

// =============================================================================
// REQUEST REPOSITORY
// =============================================================================

// TransitionMeta is written together with a status change. Empty fields
// leave the stored value untouched.
type TransitionMeta struct {
	ProcessedBy     ProcessorID
	ProcessedAt     *time.Time
	Notes           string
	RejectionReason string
}

type RequestRepository interface {
	// Create persists a new request. Returns ErrDuplicate if the id exists.
	Create(ctx context.Context, req *Request) error

	// Get returns the request or a *NotFoundError.
	Get(ctx context.Context, id RequestID) (*Request, error)

	// ListPending returns pending requests newest-first, optionally of one kind.
	ListPending(ctx context.Context, kind *Kind) ([]Request, error)

	// List returns requests matching the filter, newest-first.
	List(ctx context.Context, filter RequestFilter) ([]Request, error)

	// Transition is a compare-and-swap on status: it succeeds only if the
	// stored status equals expected, otherwise it returns *ConflictError.
	// It is the only write path for request status.
	Transition(ctx context.Context, id RequestID, expected, next Status, meta TransitionMeta) (*Request, error)

	// Claim takes an exclusive hold on a request for one decision. A live
	// claim held by another holder fails with *ConflictError; an expired
	// one is taken over. Unknown ids return *NotFoundError.
	Claim(ctx context.Context, id RequestID, holder string, lease time.Duration) error

	// Release drops holder's claim. A claim that expired or moved to
	// another holder is left alone.
	Release(ctx context.Context, id RequestID, holder string) error
}

// Store is implemented by every backend.
type Store interface {
	AccountStore
	RequestRepository
}
