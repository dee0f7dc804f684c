package mailbox

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/google/uuid"
)

// Mailbox reads and writes message queues through a state.Store.
type Mailbox struct {
	st     *state.Store
	bus    *event.Bus
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Mailbox.
func New(st *state.Store, opts ...Option) *Mailbox {
	m := &Mailbox{st: st, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).WithComponent("mailbox")
	return m
}

func queuePath(teamName, worker string) string {
	return filepath.Join(team.MailboxDir(teamName), worker+".json")
}

func (m *Mailbox) roster(teamName string) (*team.Config, error) {
	var cfg team.Config
	found, err := m.st.ReadJSON(team.ConfigPath(teamName), &cfg)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError("team", teamName)
	}
	return &cfg, nil
}

func validateSend(from, body string) error {
	if err := team.ValidateWorkerName(from); err != nil {
		return apperrors.NewValidationError("sender is required").WithField("from_worker")
	}
	if strings.TrimSpace(body) == "" {
		return apperrors.NewValidationError("message body is empty").WithField("body")
	}
	return nil
}

// Send appends a message to the recipient's queue. The recipient must be a
// roster worker or the leader.
func (m *Mailbox) Send(ctx context.Context, teamName, from, to, body string) (*Message, error) {
	if err := validateSend(from, body); err != nil {
		return nil, err
	}
	cfg, err := m.roster(teamName)
	if err != nil {
		return nil, err
	}
	if !cfg.HasMember(to) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown recipient %q", to)).
			WithField("to_worker").WithValue(to)
	}
	return m.appendMessage(ctx, teamName, from, to, body)
}

// Broadcast sends body to every roster worker except from and returns one
// message per recipient, in roster order.
func (m *Mailbox) Broadcast(ctx context.Context, teamName, from, body string) ([]Message, error) {
	if err := validateSend(from, body); err != nil {
		return nil, err
	}
	cfg, err := m.roster(teamName)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(cfg.Workers))
	for _, w := range cfg.Workers {
		if w.Name == from {
			continue
		}
		msg, err := m.appendMessage(ctx, teamName, from, w.Name, body)
		if err != nil {
			return out, fmt.Errorf("broadcast to %s: %w", w.Name, err)
		}
		out = append(out, *msg)
	}
	m.logger.Debug("broadcast sent", "team", teamName, "from", from, "recipients", len(out))
	return out, nil
}

func (m *Mailbox) appendMessage(ctx context.Context, teamName, from, to, body string) (*Message, error) {
	msg := Message{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: m.now().UTC(),
	}
	var q queue
	err := m.st.Update(ctx, queuePath(teamName, to), &q, func(bool) error {
		q.Messages = append(q.Messages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("message sent", "team", teamName, "message_id", msg.ID, "from", from, "to", to)
	m.bus.Publish(event.NewMessageSentEvent(teamName, msg.ID, from, to))
	return &msg, nil
}

// List returns a worker's messages in creation order. Delivered messages are
// omitted unless includeDelivered is set.
func (m *Mailbox) List(_ context.Context, teamName, worker string, includeDelivered bool) ([]Message, error) {
	if err := team.ValidateWorkerName(worker); err != nil {
		return nil, err
	}
	var q queue
	if _, err := m.st.ReadJSON(queuePath(teamName, worker), &q); err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(q.Messages))
	for _, msg := range q.Messages {
		if !includeDelivered && msg.IsDelivered() {
			continue
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one message from a worker's queue.
func (m *Mailbox) Get(ctx context.Context, teamName, worker, id string) (*Message, error) {
	msgs, err := m.List(ctx, teamName, worker, true)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ID == id {
			return &msgs[i], nil
		}
	}
	return nil, apperrors.NewNotFoundError("message", id)
}

// MarkNotified records that the recipient was notified. Marking twice is a
// no-op success.
func (m *Mailbox) MarkNotified(ctx context.Context, teamName, worker, id string) (*Message, error) {
	return m.mark(ctx, teamName, worker, id, MarkNotified)
}

// MarkDelivered records that the recipient read the message. It implies
// notified. Marking twice is a no-op success.
func (m *Mailbox) MarkDelivered(ctx context.Context, teamName, worker, id string) (*Message, error) {
	return m.mark(ctx, teamName, worker, id, MarkDelivered)
}

func (m *Mailbox) mark(ctx context.Context, teamName, worker, id string, mark Mark) (*Message, error) {
	if err := team.ValidateWorkerName(worker); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperrors.NewValidationError("message id is required").WithField("message_id")
	}

	var q queue
	var out Message
	changed := false
	err := m.st.Update(ctx, queuePath(teamName, worker), &q, func(bool) error {
		for i := range q.Messages {
			msg := &q.Messages[i]
			if msg.ID != id {
				continue
			}
			now := m.now().UTC()
			if msg.NotifiedAt == nil {
				msg.NotifiedAt = &now
				changed = mark == MarkNotified
			}
			if mark == MarkDelivered && msg.DeliveredAt == nil {
				msg.DeliveredAt = &now
				changed = true
			}
			out = *msg
			if !changed {
				return errUnchanged
			}
			return nil
		}
		return apperrors.NewNotFoundError("message", id)
	})
	if err != nil && !apperrors.Is(err, errUnchanged) {
		return nil, err
	}

	if changed {
		m.logger.Debug("message marked", "team", teamName, "worker", worker, "message_id", id, "mark", string(mark))
		m.bus.Publish(event.NewMessageMarkedEvent(teamName, id, worker, string(mark)))
	}
	return &out, nil
}

// errUnchanged aborts an Update without writing.
var errUnchanged = apperrors.New("unchanged")
