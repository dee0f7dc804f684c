package scaling

import (
	"time"

	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/lock"
	"github.com/Iron-Ham/teamwork/internal/logging"
)

// Manager defaults.
const (
	DefaultReadyTimeout = 30 * time.Second
	DefaultDrainTimeout = 2 * time.Minute
	DefaultDrainPoll    = time.Second
)

// Option configures a Manager.
type Option func(*Manager)

// WithEnabled turns scaling on. Scaling is disabled by default.
func WithEnabled(enabled bool) Option {
	return func(m *Manager) { m.enabled = enabled }
}

// WithReadyTimeout bounds the wait for a spawned worker to become ready.
func WithReadyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readyTimeout = d
		}
	}
}

// WithDrainTimeout sets the drain wait used when ScaleDownInput has none.
func WithDrainTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.drainTimeout = d
		}
	}
}

// WithDrainPoll sets how often draining workers are checked.
func WithDrainPoll(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.drainPoll = d
		}
	}
}

// WithLockOptions configures the team lock taken by every scaling call.
func WithLockOptions(opts ...lock.Option) Option {
	return func(m *Manager) { m.lockOpts = append(m.lockOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBus sets the event bus that receives lifecycle events.
func WithBus(b *event.Bus) Option {
	return func(m *Manager) { m.bus = b }
}
