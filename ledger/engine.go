/*
engine.go - Approval engine

PURPOSE:
  Orchestrates AccountStore and RequestRepository so a request's money
  moves exactly once, at the pending -> completed transition, and never
  partially.

APPROVE ALGORITHM:
  1. Load the request (NotFound) and require pending (InvalidState).
  2. Claim the request in the store and re-read. A claim held by another
     engine, or a status that moved since step 1, is a Conflict.
  3. Check every named account is active (AccountFrozen/AccountClosed).
     Withdrawal-class requests also need balance >= amount+fee
     (InsufficientFunds). Nothing has been mutated yet.
  4. Apply Request.Postings in order. If one fails, undo the applied ones
     in reverse.
  5. Transition pending -> completed by compare-and-swap. If it fails,
     undo every posting and return the failure (Conflict on a lost race).
  6. Notify. Delivery failures are logged, never returned.

CONCURRENCY:
  The store claim is held from step 2 until the call returns, so a second
  administrator, in this process or another one sharing the store, sees
  Conflict before it reads a balance the first one is changing. The
  compare-and-swap in step 5 still guards the status itself; a claim
  whose lease ran out is no stronger than that.

SEE ALSO:
  - reversal.go: Refund
  - store.go: ApplyDelta and Transition contracts
  - notification.go: Message construction
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultClaimLease covers one approval with room for slow stores.
const DefaultClaimLease = 30 * time.Second

// Engine is the caller-facing surface of the core. Callers pass an
// already-authenticated ProcessorID; authorization happens in front of it.
type Engine struct {
	Accounts AccountStore
	Requests RequestRepository
	Notifier Notifier
	Logger   *zap.Logger

	// Now is the clock. Tests replace it.
	Now func() time.Time

	// Currency is stamped on requests created without one.
	Currency string

	HighPriorityThreshold Amount

	// ClaimLease bounds how long a crashed engine can keep a request
	// claimed.
	ClaimLease time.Duration
}

// NewEngine wires an engine. A nil notifier drops notifications and a nil
// logger is replaced by a no-op logger.
func NewEngine(accounts AccountStore, requests RequestRepository, notifier Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Accounts:              accounts,
		Requests:              requests,
		Notifier:              notifier,
		Logger:                logger,
		Now:                   func() time.Time { return time.Now().UTC() },
		Currency:              "USD",
		HighPriorityThreshold: DefaultHighPriorityThreshold,
		ClaimLease:            DefaultClaimLease,
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// OpenAccount creates an active account with an opening balance.
func (e *Engine) OpenAccount(ctx context.Context, owner UserID, kind AccountKind, opening Amount) (*Account, error) {
	if owner == "" {
		return nil, invalid("owner_id", "is required")
	}
	if !kind.Valid() {
		return nil, invalid("kind", "unknown account kind %q", kind)
	}
	if opening.IsNegative() {
		return nil, invalid("opening_balance", "must not be negative")
	}
	now := e.Now()
	acct := Account{
		ID:             NewAccountID(),
		OwnerID:        owner,
		Kind:           kind,
		Currency:       e.Currency,
		Balance:        opening,
		OpeningBalance: opening,
		Status:         AccountActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Accounts.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	e.Logger.Info("account opened",
		zap.String("account_id", string(acct.ID)),
		zap.String("owner_id", string(owner)),
		zap.String("opening_balance", opening.String()))
	return &acct, nil
}

// SetAccountStatus freezes, unfreezes or closes an account. Closed is final.
func (e *Engine) SetAccountStatus(ctx context.Context, id AccountID, status AccountStatus, processor ProcessorID) (*Account, error) {
	if !status.Valid() {
		return nil, invalid("status", "unknown account status %q", status)
	}
	acct, err := e.Accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.Status == AccountClosed && status != AccountClosed {
		return nil, &AccountClosedError{AccountID: id}
	}
	updated, err := e.Accounts.SetAccountStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	e.Logger.Info("account status changed",
		zap.String("account_id", string(id)),
		zap.String("from", string(acct.Status)),
		zap.String("to", string(status)),
		zap.String("processor", string(processor)))
	return updated, nil
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRequest validates and persists a new pending request.
func (e *Engine) CreateRequest(ctx context.Context, req *Request) (*Request, error) {
	if req == nil {
		return nil, invalid("", "request is required")
	}
	r := req.Clone()
	if r.Adjustment != nil && r.Amount.IsZero() {
		r.Amount = r.Adjustment.Delta.Abs()
	}
	if r.Currency == "" {
		r.Currency = e.Currency
	}
	if r.Status != "" && !r.Status.IsPending() {
		return nil, invalid("status", "new requests start pending, got %q", r.Status)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	for _, id := range r.Accounts() {
		acct, err := e.Accounts.GetAccount(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				return nil, invalid("account", "account %s does not exist", id)
			}
			return nil, err
		}
		if acct.Status == AccountClosed {
			return nil, invalid("account", "account %s is closed", id)
		}
	}

	now := e.Now()
	r.ID = NewRequestID()
	r.Status = StatusPending
	r.CreatedAt = now
	r.UpdatedAt = now
	r.ProcessedAt = nil
	r.ProcessedBy = ""
	r.RejectionReason = ""
	r.ReversalOf = ""

	if err := e.Requests.Create(ctx, r); err != nil {
		return nil, err
	}
	e.Logger.Info("request created",
		zap.String("request_id", string(r.ID)),
		zap.String("kind", string(r.Kind)),
		zap.String("amount", r.Amount.String()),
		zap.String("requested_by", string(r.RequestedBy)))
	return r, nil
}

// =============================================================================
// APPROVE & REJECT
// =============================================================================

// Approve applies a pending request's ledger effect and marks it completed.
func (e *Engine) Approve(ctx context.Context, id RequestID, processor ProcessorID, notes string) (*Request, error) {
	req, release, err := e.acquire(ctx, id, "approve", StatusPending)
	if err != nil {
		return nil, err
	}
	defer release()
	observed := req.Status

	if err := e.checkPreconditions(ctx, req); err != nil {
		e.Logger.Info("approval refused",
			zap.String("request_id", string(id)),
			zap.String("reason", Code(err)))
		return nil, err
	}

	applied, err := e.applyPostings(ctx, req.Postings(), req.IsWithdrawalClass())
	if err != nil {
		return nil, e.raceOrError(ctx, id, observed, err)
	}

	now := e.Now()
	updated, err := e.Requests.Transition(ctx, id, observed, StatusCompleted, TransitionMeta{
		ProcessedBy: processor,
		ProcessedAt: &now,
		Notes:       notes,
	})
	if err != nil {
		return nil, e.compensate(ctx, "approve", applied, err)
	}

	e.Logger.Info("request approved",
		zap.String("request_id", string(id)),
		zap.String("kind", string(req.Kind)),
		zap.String("amount", req.Amount.String()),
		zap.String("processor", string(processor)))

	outcome := OutcomeCompleted
	if updated.Kind == KindBalanceAdjustment {
		outcome = OutcomeAdjusted
	}
	e.dispatch(ctx, updated, outcome)
	return updated, nil
}

// Reject marks a pending request rejected. No ledger mutation.
func (e *Engine) Reject(ctx context.Context, id RequestID, processor ProcessorID, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "is required")
	}
	req, release, err := e.acquire(ctx, id, "reject", StatusPending)
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.Now()
	updated, err := e.Requests.Transition(ctx, id, req.Status, StatusRejected, TransitionMeta{
		ProcessedBy:     processor,
		ProcessedAt:     &now,
		RejectionReason: reason,
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("request rejected",
		zap.String("request_id", string(id)),
		zap.String("kind", string(req.Kind)),
		zap.String("processor", string(processor)),
		zap.String("reason", reason))

	e.dispatch(ctx, updated, OutcomeRejected)
	return updated, nil
}

// =============================================================================
// ADJUST BALANCE
// =============================================================================

// AdjustBalance applies an administrator correction immediately and records
// it as a completed balance-adjustment request for the audit trail.
func (e *Engine) AdjustBalance(ctx context.Context, accountID AccountID, delta Amount, note string, processor ProcessorID) (*Request, error) {
	note = strings.TrimSpace(note)
	if delta.IsZero() {
		return nil, invalid("delta", "must be non-zero")
	}
	if note == "" {
		return nil, invalid("note", "is required")
	}
	if processor == "" {
		return nil, invalid("processor", "is required")
	}

	posting := Posting{Account: accountID, Delta: delta}
	applied, err := e.applyPostings(ctx, []Posting{posting}, false)
	if err != nil {
		return nil, err
	}

	now := e.Now()
	rec := &Request{
		ID:          NewRequestID(),
		Kind:        KindBalanceAdjustment,
		RequestedBy: UserID(processor),
		Amount:      delta.Abs(),
		Currency:    e.Currency,
		Status:      StatusCompleted,
		Description: note,
		CreatedAt:   now,
		UpdatedAt:   now,
		ProcessedAt: &now,
		ProcessedBy: processor,
		Notes:       note,
		Adjustment:  &BalanceAdjustment{Target: accountID, Delta: delta, Rationale: note},
	}
	if err := e.Requests.Create(ctx, rec); err != nil {
		return nil, e.compensate(ctx, "record adjustment", applied, err)
	}

	e.Logger.Info("balance adjusted",
		zap.String("request_id", string(rec.ID)),
		zap.String("account_id", string(accountID)),
		zap.String("delta", delta.String()),
		zap.String("processor", string(processor)))

	e.dispatch(ctx, rec, OutcomeAdjusted)
	return rec, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// acquire loads the request, checks it is in the wanted status, claims it
// in the store and re-reads. The returned release must be called.
func (e *Engine) acquire(ctx context.Context, id RequestID, action string, want Status) (*Request, func(), error) {
	req, err := e.Requests.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !statusMatches(req.Status, want) {
		return nil, nil, &InvalidStateError{RequestID: id, Status: req.Status, Action: action}
	}
	observed := req.Status

	holder := newClaimHolder()
	if err := e.Requests.Claim(ctx, id, holder, e.ClaimLease); err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := e.Requests.Release(context.WithoutCancel(ctx), id, holder); err != nil {
			e.Logger.Warn("request claim release failed",
				zap.String("request_id", string(id)),
				zap.Error(err))
		}
	}

	current, err := e.Requests.Get(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	if current.Status != observed {
		release()
		return nil, nil, &ConflictError{RequestID: id, Expected: observed, Actual: current.Status}
	}
	return current, release, nil
}

func statusMatches(have, want Status) bool {
	if want == StatusPending {
		return have.IsPending()
	}
	return have == want
}

// checkPreconditions refuses before any mutation: inactive accounts, and
// withdrawal-class requests the source cannot cover.
func (e *Engine) checkPreconditions(ctx context.Context, req *Request) error {
	for _, id := range req.Accounts() {
		acct, err := e.Accounts.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		switch acct.Status {
		case AccountFrozen:
			return &AccountFrozenError{AccountID: id}
		case AccountClosed:
			return &AccountClosedError{AccountID: id}
		}
	}
	if !req.IsWithdrawalClass() {
		return nil
	}
	source := req.Accounts()[0]
	balance, err := e.Accounts.GetBalance(ctx, source)
	if err != nil {
		return err
	}
	if balance.LessThan(req.Debit()) {
		return &InsufficientFundsError{AccountID: source, Available: balance, Required: req.Debit()}
	}
	return nil
}

// applyPostings applies each posting in order. On failure the postings
// already applied are undone in reverse and the original error returned.
// Debits are guarded against overdraw when guardDebits is set.
func (e *Engine) applyPostings(ctx context.Context, postings []Posting, guardDebits bool) ([]Posting, error) {
	applied := make([]Posting, 0, len(postings))
	for _, p := range postings {
		opts := DeltaOptions{RequireSufficientFunds: guardDebits && p.Delta.IsNegative()}
		if _, err := e.Accounts.ApplyDelta(ctx, p.Account, p.Delta, opts); err != nil {
			return nil, e.compensate(ctx, "apply posting", applied, err)
		}
		applied = append(applied, p)
	}
	return applied, nil
}

// compensate undoes applied postings in reverse order and returns cause,
// or a *CompensationError if an undo step failed.
func (e *Engine) compensate(ctx context.Context, op string, applied []Posting, cause error) error {
	if len(applied) == 0 {
		return cause
	}
	// Undo must run even if the caller's context was cancelled.
	undoCtx := context.WithoutCancel(ctx)
	var undoErrs []error
	for i := len(applied) - 1; i >= 0; i-- {
		p := applied[i]
		if _, err := e.Accounts.ApplyDelta(undoCtx, p.Account, p.Delta.Neg(), DeltaOptions{Compensating: true}); err != nil {
			undoErrs = append(undoErrs, err)
			e.Logger.Error("compensation failed",
				zap.String("op", op),
				zap.String("account_id", string(p.Account)),
				zap.String("delta", p.Delta.Neg().String()),
				zap.Error(err))
		}
	}
	if len(undoErrs) > 0 {
		return &CompensationError{Op: op, Cause: cause, CompensationErr: errors.Join(undoErrs...)}
	}
	e.Logger.Warn("ledger effect compensated",
		zap.String("op", op),
		zap.Int("postings", len(applied)),
		zap.Error(cause))
	return cause
}

// raceOrError reports a Conflict instead of err when the request moved on
// while we were applying postings: the failure was a symptom of the lost race.
func (e *Engine) raceOrError(ctx context.Context, id RequestID, observed Status, err error) error {
	var comp *CompensationError
	if errors.As(err, &comp) {
		return err
	}
	current, getErr := e.Requests.Get(ctx, id)
	if getErr == nil && current.Status != observed {
		return &ConflictError{RequestID: id, Expected: observed, Actual: current.Status}
	}
	return err
}

// dispatch sends the outcome notification. Never fails the caller.
func (e *Engine) dispatch(ctx context.Context, req *Request, outcome Outcome) {
	if e.Notifier == nil {
		return
	}
	recipient := req.RequestedBy
	if req.Kind == KindBalanceAdjustment && req.Adjustment != nil {
		acct, err := e.Accounts.GetAccount(ctx, req.Adjustment.Target)
		if err != nil {
			e.Logger.Warn("notification recipient lookup failed",
				zap.String("request_id", string(req.ID)),
				zap.Error(err))
			return
		}
		recipient = acct.OwnerID
	}
	n := BuildNotification(req, outcome, recipient, e.HighPriorityThreshold, e.Now())

	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("notifier panicked", zap.String("request_id", string(req.ID)), zap.Any("panic", r))
		}
	}()
	if err := e.Notifier.Notify(ctx, n); err != nil {
		e.Logger.Warn("notification delivery failed",
			zap.String("request_id", string(req.ID)),
			zap.String("recipient", string(recipient)),
			zap.Error(err))
	}
}
