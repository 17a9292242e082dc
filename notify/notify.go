/*
Package notify delivers ledger.Notification values produced by the engine.

PURPOSE:
  The engine decides what to say (ledger/notification.go). This package
  decides where it goes: a structured log, a Redis pub/sub channel, a
  Kafka topic, an in-memory recorder, or several at once. Async wraps any
  of them so approval latency never depends on a broker.

ADAPTERS:
  Log      - zap line per notification (default, no infrastructure)
  Redis    - PUBLISH <channel> <event JSON>
  Kafka    - one message per notification, keyed by recipient
  Recorder - keeps everything in memory (tests, demo scenarios)
  Multi    - fan-out, joins errors
  Async    - bounded queue + worker pool in front of another Notifier

WIRE FORMAT:
  Redis and Kafka both publish Event: the notification plus a unique
  event id and a type of the form "request.<outcome>".

SEE ALSO:
  - ledger/notification.go: Notification construction and priority
  - cmd/server/main.go: Adapter selection from configuration
*/
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

// Event is the broker payload.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	ledger.Notification
}

// NewEvent wraps a notification with a fresh event id.
func NewEvent(n ledger.Notification) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         "request." + string(n.Outcome),
		Notification: n,
	}
}

func encode(n ledger.Notification) (Event, []byte, error) {
	ev := NewEvent(n)
	payload, err := json.Marshal(ev)
	if err != nil {
		return ev, nil, fmt.Errorf("failed to marshal notification: %w", err)
	}
	return ev, payload, nil
}

// =============================================================================
// LOG
// =============================================================================

// Log writes each notification as a structured log line.
type Log struct {
	Logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{Logger: logger}
}

func (l *Log) Notify(_ context.Context, n ledger.Notification) error {
	l.Logger.Info("notification",
		zap.String("recipient", string(n.Recipient)),
		zap.String("request_id", string(n.RequestID)),
		zap.String("kind", string(n.Kind)),
		zap.String("outcome", string(n.Outcome)),
		zap.String("priority", string(n.Priority)),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
	return nil
}

// =============================================================================
// MULTI
// =============================================================================

// Multi delivers to every notifier and joins their errors. One failing
// target does not stop the others.
type Multi []ledger.Notifier

func (m Multi) Notify(ctx context.Context, n ledger.Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ ledger.Notifier = (*Log)(nil)
	_ ledger.Notifier = Multi(nil)
)
