package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/warp/funds-engine/ledger"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned when the queue is at capacity; the
	// notification is dropped.
	ErrQueueFull = errors.New("notification queue full")

	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("notifier stopped")
)

// AsyncOptions configures Async. Zero values take defaults.
type AsyncOptions struct {
	QueueSize int           // default 1024
	Workers   int           // default 4
	Timeout   time.Duration // per delivery, default 5s
}

// Async is a fire-and-forget front for a slow Notifier. Notify only
// enqueues; workers deliver in the background and log failures.
//
//	n := notify.NewAsync(notify.NewRedis(client, "funds.notifications"), logger, notify.AsyncOptions{})
//	n.Start()
//	defer n.Stop(ctx)
type Async struct {
	next   ledger.Notifier
	logger *zap.Logger
	opts   AsyncOptions

	queue   chan ledger.Notification
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

func NewAsync(next ledger.Notifier, logger *zap.Logger, opts AsyncOptions) *Async {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Async{
		next:   next,
		logger: logger,
		opts:   opts,
		queue:  make(chan ledger.Notification, opts.QueueSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (a *Async) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return
	}
	a.started = true
	for i := 0; i < a.opts.Workers; i++ {
		a.wg.Add(1)
		go a.work()
	}
	a.logger.Info("notification workers started",
		zap.Int("workers", a.opts.Workers),
		zap.Int("queue_size", a.opts.QueueSize))
}

// Notify enqueues n without blocking.
func (a *Async) Notify(_ context.Context, n ledger.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		return ErrStopped
	}
	select {
	case a.queue <- n:
		return nil
	default:
		a.logger.Warn("notification dropped",
			zap.String("request_id", string(n.RequestID)),
			zap.String("recipient", string(n.Recipient)))
		return ErrQueueFull
	}
}

// Stop refuses new notifications, drains the queue and waits for the
// workers, or gives up when ctx ends.
func (a *Async) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	close(a.queue)
	started := a.started
	a.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.logger.Info("notification workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain: %w", ctx.Err())
	}
}

// Pending is the number of queued, undelivered notifications.
func (a *Async) Pending() int { return len(a.queue) }

func (a *Async) work() {
	defer a.wg.Done()
	for n := range a.queue {
		a.deliver(n)
	}
}

func (a *Async) deliver(n ledger.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("notifier panicked",
				zap.String("request_id", string(n.RequestID)),
				zap.Any("panic", r))
		}
	}()

	if err := a.next.Notify(ctx, n); err != nil {
		a.logger.Warn("notification delivery failed",
			zap.String("request_id", string(n.RequestID)),
			zap.String("recipient", string(n.Recipient)),
			zap.Error(err))
	}
}

var _ ledger.Notifier = (*Async)(nil)
