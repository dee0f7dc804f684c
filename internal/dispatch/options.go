package dispatch

import (
	"time"

	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
)

// Defaults for receipt waiting.
const (
	DefaultReceiptTimeout = 3 * time.Second
	DefaultReceiptPoll    = 100 * time.Millisecond
	// DefaultPendingGrace is added to the receipt timeout to decide when a
	// pending request has been abandoned.
	DefaultPendingGrace = 30 * time.Second
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier sets the primary notifier. Defaults to NopNotifier.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithFallback sets the direct notifier tried once when a
// hook_preferred_with_fallback dispatch times out or fails.
func WithFallback(n Notifier) Option {
	return func(c *Coordinator) { c.fallback = n }
}

// WithPreference sets the transport preference recorded on new requests.
func WithPreference(p Preference) Option {
	return func(c *Coordinator) { c.preference = p }
}

// WithFallbackAllowed sets whether new requests may use the fallback.
func WithFallbackAllowed(allowed bool) Option {
	return func(c *Coordinator) { c.fallbackAllowed = allowed }
}

// WithReceiptWait sets how long to wait for a receipt and how often to poll
// for one. Non-positive values keep the defaults.
func WithReceiptWait(timeout, poll time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.receiptTimeout = timeout
		}
		if poll > 0 {
			c.receiptPoll = poll
		}
	}
}

// WithPendingExpiry sets how long a request may stay pending before it is
// treated as abandoned and failed. Non-positive keeps the default of the
// receipt timeout plus DefaultPendingGrace.
func WithPendingExpiry(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.pendingExpiry = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithBus sets the event bus that receives dispatch events.
func WithBus(b *event.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}
