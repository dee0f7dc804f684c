package mailbox

import (
	"time"

	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
)

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithBus attaches an event bus. A MessageSentEvent is published after every
// successful send and a MessageMarkedEvent on the first mark of each kind.
func WithBus(bus *event.Bus) Option {
	return func(m *Mailbox) {
		m.bus = bus
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mailbox) {
		m.logger = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) {
		m.now = now
	}
}
