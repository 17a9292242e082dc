/*
notification.go - Outcome notifications

PURPOSE:
  Decides who is told what, and how urgently, after a request is
  processed. Delivery is someone else's job (see notify/); the engine
  hands the Notification to a Notifier and never lets a delivery failure
  undo a committed ledger effect.

PRIORITY:
  high   - rejections, refunds, wires, amounts at or above the threshold
  normal - everything else

RECIPIENT:
  The requester, except balance adjustments which go to the owner of the
  target account.

SEE ALSO:
  - notify/async.go: Fire-and-forget delivery queue
  - engine.go: Calls dispatch after each committed transition
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeRefunded  Outcome = "refunded"
	OutcomeAdjusted  Outcome = "adjusted"
)

// Notification is created once per processed request and never mutated.
type Notification struct {
	Recipient UserID    `json:"recipient"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Priority  Priority  `json:"priority"`
	RequestID RequestID `json:"request_id"`
	Kind      Kind      `json:"kind"`
	Outcome   Outcome   `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifier delivers notifications. Implementations may be asynchronous.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// DefaultHighPriorityThreshold marks large movements as high priority.
var DefaultHighPriorityThreshold = MustAmount("10000.00")

// BuildNotification constructs the message for a processed request.
func BuildNotification(req *Request, outcome Outcome, recipient UserID, threshold Amount, at time.Time) Notification {
	label := req.Kind.Label()
	amount := req.Amount.String()
	if req.Currency != "" {
		amount += " " + req.Currency
	}

	n := Notification{
		Recipient: recipient,
		Priority:  PriorityNormal,
		RequestID: req.ID,
		Kind:      req.Kind,
		Outcome:   outcome,
		CreatedAt: at,
	}

	switch outcome {
	case OutcomeCompleted:
		n.Title = capitalize(label) + " completed"
		n.Message = fmt.Sprintf("Your %s of %s has been completed.", label, amount)
		if req.Fee.IsPositive() {
			n.Message += fmt.Sprintf(" A fee of %s was charged.", req.Fee)
		}
	case OutcomeRejected:
		n.Title = capitalize(label) + " rejected"
		n.Message = fmt.Sprintf("Your %s of %s was rejected: %s", label, amount, req.RejectionReason)
		n.Priority = PriorityHigh
	case OutcomeRefunded:
		n.Title = capitalize(label) + " refunded"
		n.Message = fmt.Sprintf("Your %s of %s was refunded to your account.", label, amount)
		n.Priority = PriorityHigh
	case OutcomeAdjusted:
		delta := req.Amount
		rationale := ""
		if req.Adjustment != nil {
			delta = req.Adjustment.Delta
			rationale = req.Adjustment.Rationale
		}
		n.Title = "Balance adjusted"
		n.Message = fmt.Sprintf("An adjustment of %s was applied to your account: %s", delta, rationale)
	}

	if req.Kind == KindWireTransfer || (threshold.IsPositive() && req.Amount.GreaterThanOrEqual(threshold)) {
		n.Priority = PriorityHigh
	}
	return n
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
