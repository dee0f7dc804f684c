package taskqueue

import (
	"time"

	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
)

// DefaultClaimLease is how long a claim is valid before ReleaseExpiredClaims
// may return the task to pending.
const DefaultClaimLease = 15 * time.Minute

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithBus sets the event bus that receives task events.
func WithBus(b *event.Bus) Option {
	return func(r *Registry) { r.bus = b }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithClaimLease sets the claim lease. Non-positive values keep the default.
func WithClaimLease(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.lease = d
		}
	}
}
