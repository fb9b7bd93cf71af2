// Package notify delivers human-readable coordination events to an injected
// sink. Delivery is fire-and-forget: it never blocks the caller and never
// returns an error — a coordination decision must not fail because a chat
// message could not be sent.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event types emitted by the coordinator.
const (
	EventAcquired          = "HOST_ACQUIRED"
	EventRecovered         = "HOST_RECOVERED"
	EventForced            = "HOST_FORCED"
	EventReleased          = "HOST_RELEASED"
	EventTakeover          = "TAKEOVER"
	EventHostLost          = "HOST_LOST"
	EventQueueJoin         = "QUEUE_JOIN"
	EventQueueReorder      = "QUEUE_REORDER"
	EventQueueRemove       = "QUEUE_REMOVE"
	EventQueueCleanup      = "QUEUE_CLEANUP"
	EventTransferScheduled = "TRANSFER_SCHEDULED"
	EventTransferCancelled = "TRANSFER_CANCELLED"
	EventTransferSuccess   = "TRANSFER_SUCCESS"
	EventTransferFailed    = "TRANSFER_FAILED"
)

// Func is the injected delivery callback. The coordinator does not care
// where events go: chat message, webhook, log line.
type Func func(ctx context.Context, eventType, message string) error

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// WithTimeout bounds each delivery attempt.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.timeout = d }
}

// Notifier wraps a delivery callback with asynchronous, best-effort
// semantics. A nil Notifier or a Notifier without a sink is valid and
// drops all events.
type Notifier struct {
	fn      Func
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a Notifier around fn. A nil fn yields a no-op notifier.
func New(fn Func, opts ...Option) *Notifier {
	n := &Notifier{
		fn:      fn,
		logger:  slog.Default(),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify delivers one event in the background. Failures are logged locally
// and swallowed.
func (n *Notifier) Notify(eventType, message string) {
	if n == nil || n.fn == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("notification sink panicked", "event", eventType, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.fn(ctx, eventType, message); err != nil {
			n.logger.Warn("notification delivery failed", "event", eventType, "error", err)
		}
	}()
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown and
// in tests.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.wg.Wait()
}
