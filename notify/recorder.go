package notify

import (
	"context"
	"sync"

	"github.com/warp/funds-engine/ledger"
)

// Recorder keeps every notification in memory, newest last.
type Recorder struct {
	mu   sync.Mutex
	sent []ledger.Notification
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, n ledger.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// All returns a copy of everything recorded.
func (r *Recorder) All() []ledger.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ledger.Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// For returns the notifications addressed to one recipient, newest first.
func (r *Recorder) For(recipient ledger.UserID) []ledger.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []ledger.Notification{}
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Recipient == recipient {
			out = append(out, r.sent[i])
		}
	}
	return out
}

// Reset forgets everything.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

var _ ledger.Notifier = (*Recorder)(nil)
