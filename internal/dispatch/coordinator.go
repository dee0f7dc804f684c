package dispatch

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/mailbox"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/team"
	"golang.org/x/sync/errgroup"
)

// broadcastConcurrency bounds parallel notifications during a broadcast.
const broadcastConcurrency = 4

// Coordinator wraps mailbox and inbox writes in tracked dispatch requests.
type Coordinator struct {
	st    *state.Store
	teams *team.Store
	mail  *mailbox.Mailbox

	notifier        Notifier
	fallback        Notifier
	preference      Preference
	fallbackAllowed bool
	receiptTimeout  time.Duration
	receiptPoll     time.Duration
	pendingExpiry   time.Duration

	logger *logging.Logger
	bus    *event.Bus
	now    func() time.Time
}

// New creates a Coordinator. By default it prefers the hook transport with
// fallback allowed, and notifies nobody until WithNotifier is given.
func New(st *state.Store, teams *team.Store, mail *mailbox.Mailbox, opts ...Option) *Coordinator {
	c := &Coordinator{
		st:              st,
		teams:           teams,
		mail:            mail,
		notifier:        NopNotifier{},
		preference:      PreferHookWithFallback,
		fallbackAllowed: true,
		receiptTimeout:  DefaultReceiptTimeout,
		receiptPoll:     DefaultReceiptPoll,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pendingExpiry <= 0 {
		c.pendingExpiry = c.receiptTimeout + DefaultPendingGrace
	}
	c.logger = logging.OrNop(c.logger).WithComponent("dispatch")
	return c
}

// SendMessage persists a direct message and notifies its recipient.
// Validation and store errors are returned; notification problems are
// reported in the Outcome.
func (c *Coordinator) SendMessage(ctx context.Context, teamName, from, to, body string) (*mailbox.Message, Outcome, error) {
	msg, err := c.mail.Send(ctx, teamName, from, to, body)
	if err != nil {
		return nil, Outcome{}, err
	}
	target, err := c.target(ctx, teamName, to)
	if err != nil {
		return msg, Outcome{}, err
	}
	out, err := c.dispatch(ctx, target, Request{
		Kind:           KindMailbox,
		ToWorker:       to,
		MessageID:      msg.ID,
		TriggerMessage: mailTrigger(msg),
	})
	return msg, out, err
}

// Broadcast persists one message per worker other than from, then notifies
// the recipients concurrently. Outcomes are in the same order as messages.
func (c *Coordinator) Broadcast(ctx context.Context, teamName, from, body string) ([]mailbox.Message, []Outcome, error) {
	msgs, err := c.mail.Broadcast(ctx, teamName, from, body)
	if err != nil {
		return msgs, nil, err
	}

	cfg, err := c.teams.Load(ctx, teamName)
	if err != nil {
		return msgs, nil, err
	}

	outcomes := make([]Outcome, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for i := range msgs {
		msg := msgs[i]
		g.Go(func() error {
			target, err := targetFor(cfg, msg.To)
			if err != nil {
				return err
			}
			out, err := c.dispatch(gctx, target, Request{
				Kind:           KindMailbox,
				ToWorker:       msg.To,
				MessageID:      msg.ID,
				TriggerMessage: mailTrigger(&msg),
			})
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return msgs, outcomes, err
	}
	return msgs, outcomes, nil
}

// WriteInbox replaces a worker's inbox and notifies it with trigger. An
// empty trigger uses a default pointing at the inbox file.
func (c *Coordinator) WriteInbox(ctx context.Context, teamName, worker, content, trigger string) (Outcome, error) {
	target, err := c.target(ctx, teamName, worker)
	if err != nil {
		return Outcome{}, err
	}
	return c.WriteInboxTo(ctx, target, content, trigger)
}

// WriteInboxTo is WriteInbox for a target that may not be in the persisted
// roster yet, such as a worker being bootstrapped by scale-up.
func (c *Coordinator) WriteInboxTo(ctx context.Context, target Target, content, trigger string) (Outcome, error) {
	if err := c.teams.WriteInbox(target.Team, target.Worker, content); err != nil {
		return Outcome{}, err
	}
	if trigger == "" {
		trigger = fmt.Sprintf("New instructions in %s. Read them and continue.",
			c.st.Path(team.InboxPath(target.Team, target.Worker)))
	}
	return c.dispatch(ctx, target, Request{
		Kind:           KindInbox,
		ToWorker:       target.Worker,
		TriggerMessage: trigger,
	})
}

// ReadInbox returns a worker's inbox content.
func (c *Coordinator) ReadInbox(teamName, worker string) (string, error) {
	return c.teams.ReadInbox(teamName, worker)
}

func mailTrigger(msg *mailbox.Message) string {
	return fmt.Sprintf("New message from %s (id %s). Run: teamwork msg list", msg.From, msg.ID)
}

func (c *Coordinator) target(ctx context.Context, teamName, worker string) (Target, error) {
	cfg, err := c.teams.Load(ctx, teamName)
	if err != nil {
		return Target{}, err
	}
	return targetFor(cfg, worker)
}

// targetFor resolves a roster worker or the leader. The leader is notified
// in its own pane with index 0.
func targetFor(cfg *team.Config, worker string) (Target, error) {
	t := Target{Team: cfg.Name, Worker: worker}
	if worker == team.LeaderName {
		t.PaneID = cfg.LeaderPaneID
		return t, nil
	}
	w, ok := cfg.Worker(worker)
	if !ok {
		return Target{}, apperrors.NewValidationError(fmt.Sprintf("unknown worker %q", worker)).WithField("to_worker")
	}
	t.Index = w.Index
	t.PaneID = w.PaneID
	return t, nil
}

// dispatch runs the enqueue, notify, confirm, record sequence for a payload
// that has already been persisted.
func (c *Coordinator) dispatch(ctx context.Context, target Target, req Request) (Outcome, error) {
	teamName := target.Team
	req.WorkerIndex = target.Index
	req.PaneID = target.PaneID
	req.TransportPreference = c.preference
	req.FallbackAllowed = c.fallbackAllowed

	log := c.logger.With("team", teamName, "to_worker", req.ToWorker, "kind", string(req.Kind))

	queued, err := c.Enqueue(ctx, teamName, req)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrDuplicateDispatch) && queued != nil {
			log.Info("dispatch deduped", "request_id", queued.RequestID)
			c.bus.Publish(event.NewDispatchDedupedEvent(teamName, queued.RequestID, req.ToWorker))
			return Outcome{
				Deduped:   true,
				RequestID: queued.RequestID,
				Status:    queued.Status,
				Reason:    string(apperrors.CodeDuplicateDispatch),
			}, nil
		}
		return Outcome{}, err
	}
	log = log.With("request_id", queued.RequestID)

	payload := Payload{
		RequestID:  queued.RequestID,
		Kind:       queued.Kind,
		Message:    queued.TriggerMessage,
		MessageID:  queued.MessageID,
		Preference: queued.TransportPreference,
	}
	out, attempts := c.deliver(ctx, target, payload, queued, log)
	out.RequestID = queued.RequestID

	if err := c.record(ctx, teamName, out, attempts); err != nil {
		return out, err
	}
	if out.OK && queued.Kind == KindMailbox {
		if _, err := c.mail.MarkNotified(ctx, teamName, queued.ToWorker, queued.MessageID); err != nil {
			return out, err
		}
	}

	if out.OK {
		log.Debug("dispatch complete", "status", string(out.Status), "transport", string(out.Transport), "fallback_used", out.FallbackUsed)
	} else {
		log.Warn("dispatch failed", "reason", out.Reason, "transport", string(out.Transport), "fallback_used", out.FallbackUsed)
	}
	c.bus.Publish(event.NewDispatchCompletedEvent(teamName, queued.RequestID, queued.ToWorker,
		string(out.Status), string(out.Transport), out.FallbackUsed, out.Reason))
	return out, nil
}

// deliver notifies the target and, for hook delivery, waits for a receipt
// and falls back once. It returns the outcome and the number of notifier
// calls made.
func (c *Coordinator) deliver(ctx context.Context, target Target, payload Payload, req *Request, log *logging.Logger) (Outcome, int) {
	primary := c.safeNotify(ctx, c.notifier, target, payload)
	attempts := 1

	if req.TransportPreference != PreferHookWithFallback {
		return outcomeOf(primary), attempts
	}
	if primary.Confirmed() {
		return outcomeOf(primary), attempts
	}

	reason := primary.Reason
	if primary.OK {
		receipt, err := c.waitReceipt(ctx, target.Team, payload.RequestID, c.receiptTimeout)
		switch {
		case err != nil:
			reason = "read receipt: " + err.Error()
		case receipt == nil:
			reason = "receipt timeout"
		case receipt.Status == ReceiptDelivered:
			return Outcome{OK: true, Transport: primary.Transport, Status: StatusDelivered, Reason: receipt.Reason}, attempts
		default:
			reason = "receipt failed: " + receipt.Reason
		}
	}

	if !req.FallbackAllowed || c.fallback == nil {
		return Outcome{Transport: primary.Transport, Status: StatusFailed, Reason: reason}, attempts
	}

	log.Info("falling back to direct transport", "reason", reason)
	fb := c.safeNotify(ctx, c.fallback, target, payload)
	attempts++
	if !fb.Confirmed() {
		return Outcome{
			Transport:    fb.Transport,
			Status:       StatusFailed,
			Reason:       fmt.Sprintf("%s; fallback: %s", reason, fb.Reason),
			FallbackUsed: true,
		}, attempts
	}

	// A confirmed fallback wins over a failed receipt that arrives late; a
	// late delivered receipt upgrades the status.
	status := StatusNotified
	if receipt, err := c.ReadReceipt(target.Team, payload.RequestID); err == nil && receipt != nil && receipt.Status == ReceiptDelivered {
		status = StatusDelivered
	}
	return Outcome{OK: true, Transport: fb.Transport, Status: status, Reason: reason, FallbackUsed: true}, attempts
}

func outcomeOf(r Result) Outcome {
	switch {
	case r.Confirmed():
		return Outcome{OK: true, Transport: r.Transport, Status: StatusNotified, Reason: r.Reason}
	case r.OK:
		// Unconfirmed transport outside hook-with-fallback mode: queued is
		// the best we know.
		return Outcome{OK: true, Transport: r.Transport, Status: StatusNotified, Reason: r.Reason}
	default:
		return Outcome{Transport: r.Transport, Status: StatusFailed, Reason: r.Reason}
	}
}

// safeNotify calls n and converts errors and panics into a failed Result.
func (c *Coordinator) safeNotify(ctx context.Context, n Notifier, target Target, payload Payload) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notifier panicked", "team", target.Team, "to_worker", target.Worker, "panic", fmt.Sprint(r))
			res = Result{Transport: TransportNone, Reason: fmt.Sprintf("notifier panic: %v", r)}
		}
	}()
	res, err := n.Notify(ctx, target, payload)
	if err != nil {
		if res.Transport == "" {
			res.Transport = TransportNone
		}
		return Result{Transport: res.Transport, Reason: apperrors.NewTransportError(string(res.Transport), target.Worker, err).Error()}
	}
	if !res.OK && res.Reason == "" {
		res.Reason = "notifier reported failure"
	}
	if res.Transport == "" {
		res.Transport = TransportNone
	}
	return res
}
