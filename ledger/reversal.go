/*
reversal.go - Refunds of completed internal transfers

PURPOSE:
  A refund re-credits the original source and leaves an audit trail. It
  never touches the destination: the destination keeps what the
  original transfer moved.

REFUND ALGORITHM:
  1. Load (NotFound); require an internal transfer in completed status
     that is not itself a refund record (InvalidState).
  2. Claim and re-read, as in approve.
  3. ApplyDelta(source, +amount). A frozen or closed source refuses the
     credit (AccountFrozen, AccountClosed) before anything else changes.
  4. Transition completed -> refunded. A lost race undoes step 3 and
     returns Conflict. Refunds are single-use because of this guard.
  5. Create the linked refund record: completed immediately, mirrored
     accounts, ReversalOf = original id. If that fails, steps 4 and 3
     are rolled back.
  6. Notify the original requester.

SEE ALSO:
  - engine.go: Shared claiming, compensation and dispatch
  - request.go: Postings of a refund record (credit only)
*/
package ledger

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Refund reverses a completed internal transfer and returns the new
// refund record.
func (e *Engine) Refund(ctx context.Context, id RequestID, processor ProcessorID, reason string) (*Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "refund"
	}

	orig, err := e.Requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if orig.Kind != KindInternalTransfer || orig.IsRefund() || orig.Internal == nil {
		return nil, &InvalidStateError{RequestID: id, Status: orig.Status, Action: "refund " + orig.Kind.Label()}
	}

	orig, release, err := e.acquire(ctx, id, "refund", StatusCompleted)
	if err != nil {
		return nil, err
	}
	defer release()

	credit := Posting{Account: orig.Internal.Source, Delta: orig.Amount}
	applied, err := e.applyPostings(ctx, []Posting{credit}, false)
	if err != nil {
		return nil, e.raceOrError(ctx, id, StatusCompleted, err)
	}

	refunded, err := e.Requests.Transition(ctx, id, StatusCompleted, StatusRefunded, TransitionMeta{})
	if err != nil {
		return nil, e.compensate(ctx, "refund", applied, err)
	}

	now := e.Now()
	record := &Request{
		ID:          NewRequestID(),
		Kind:        KindInternalTransfer,
		RequestedBy: orig.RequestedBy,
		Amount:      orig.Amount,
		Currency:    orig.Currency,
		Status:      StatusCompleted,
		Description: "Refund of " + string(orig.ID),
		CreatedAt:   now,
		UpdatedAt:   now,
		ProcessedAt: &now,
		ProcessedBy: processor,
		Notes:       reason,
		ReversalOf:  orig.ID,
		Internal: &InternalTransfer{
			Source:      orig.Internal.Destination,
			Destination: orig.Internal.Source,
		},
	}
	if err := e.Requests.Create(ctx, record); err != nil {
		undoCtx := context.WithoutCancel(ctx)
		if _, rbErr := e.Requests.Transition(undoCtx, id, StatusRefunded, StatusCompleted, TransitionMeta{}); rbErr != nil {
			e.Logger.Error("refund status rollback failed",
				zap.String("request_id", string(id)),
				zap.Error(rbErr))
			return nil, &CompensationError{Op: "record refund", Cause: err, CompensationErr: rbErr}
		}
		return nil, e.compensate(ctx, "record refund", applied, err)
	}

	e.Logger.Info("transfer refunded",
		zap.String("request_id", string(id)),
		zap.String("refund_id", string(record.ID)),
		zap.String("amount", orig.Amount.String()),
		zap.String("processor", string(processor)))

	e.dispatch(ctx, refunded, OutcomeRefunded)
	return record, nil
}
