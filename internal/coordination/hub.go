package coordination

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Iron-Ham/teamwork/internal/dispatch"
	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/mailbox"
	"github.com/Iron-Ham/teamwork/internal/scaling"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
)

// Config holds the dependencies for creating a Hub.
type Config struct {
	// Store is the durable state root. Required.
	Store *state.Store
	// Bus receives an event for every state mutation. Optional.
	Bus *event.Bus
	// Spawner runs worker processes. Without one, scaling is unavailable
	// and notifications only use the hook transport.
	Spawner scaling.Spawner
	// Stdin opens a worker's standard input for the prompt_stdin transport.
	// Optional.
	Stdin func(dispatch.Target) (io.WriteCloser, error)
}

// Hub wires the coordination components together for one state root.
type Hub struct {
	st       *state.Store
	teams    *team.Store
	tasks    *taskqueue.Registry
	mail     *mailbox.Mailbox
	dispatch *dispatch.Coordinator
	hooks    dispatch.HookNotifier
	scaler   *scaling.Manager
	policy   *scaling.Policy

	logger *logging.Logger
	now    func() time.Time
}

// NewHub creates a Hub. With a Spawner, notifications prefer the hook
// transport and fall back to typing into the worker's pane.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if cfg.Store == nil {
		return nil, errors.New("coordination: Store is required")
	}

	hc := &hubConfig{now: time.Now}
	for _, opt := range opts {
		opt(hc)
	}
	logger := logging.OrNop(hc.logger)

	teams := team.NewStore(cfg.Store,
		team.WithLogger(logger), team.WithBus(cfg.Bus), team.WithClock(hc.now))

	taskOpts := []taskqueue.Option{
		taskqueue.WithLogger(logger), taskqueue.WithBus(cfg.Bus), taskqueue.WithClock(hc.now),
	}
	if hc.claimLease > 0 {
		taskOpts = append(taskOpts, taskqueue.WithClaimLease(hc.claimLease))
	}
	tasks := taskqueue.New(cfg.Store, taskOpts...)

	mail := mailbox.New(cfg.Store,
		mailbox.WithLogger(logger), mailbox.WithBus(cfg.Bus), mailbox.WithClock(hc.now))

	hooks := dispatch.HookNotifier{Store: cfg.Store}
	router := dispatch.Router{Hook: hooks}
	if cfg.Stdin != nil {
		router.Stdin = dispatch.StdinNotifier{Open: cfg.Stdin}
	}
	dispatchOpts := []dispatch.Option{
		dispatch.WithLogger(logger), dispatch.WithBus(cfg.Bus), dispatch.WithClock(hc.now),
	}
	if cfg.Spawner != nil {
		pane := dispatch.PaneNotifier{Sender: cfg.Spawner}
		router.Direct = pane
		dispatchOpts = append(dispatchOpts, dispatch.WithFallback(pane))
	}
	dispatchOpts = append(dispatchOpts, dispatch.WithNotifier(router))
	dispatchOpts = append(dispatchOpts, hc.dispatchOpts...)
	dispatcher := dispatch.New(cfg.Store, teams, mail, dispatchOpts...)

	scalingOpts := append([]scaling.Option{
		scaling.WithLogger(logger), scaling.WithBus(cfg.Bus),
	}, hc.scalingOpts...)
	scaler := scaling.NewManager(teams, tasks, dispatcher, cfg.Spawner, scalingOpts...)

	policy := hc.scalingPolicy
	if policy == nil {
		policy = scaling.NewPolicy()
	}

	return &Hub{
		st:       cfg.Store,
		teams:    teams,
		tasks:    tasks,
		mail:     mail,
		dispatch: dispatcher,
		hooks:    hooks,
		scaler:   scaler,
		policy:   policy,
		logger:   logger.WithComponent("coordination"),
		now:      hc.now,
	}, nil
}

// Store returns the state store.
func (h *Hub) Store() *state.Store { return h.st }

// Teams returns the team store.
func (h *Hub) Teams() *team.Store { return h.teams }

// Tasks returns the task registry.
func (h *Hub) Tasks() *taskqueue.Registry { return h.tasks }

// Mailbox returns the mailbox.
func (h *Hub) Mailbox() *mailbox.Mailbox { return h.mail }

// Dispatcher returns the dispatch coordinator.
func (h *Hub) Dispatcher() *dispatch.Coordinator { return h.dispatch }

// Scaler returns the worker lifecycle manager.
func (h *Hub) Scaler() *scaling.Manager { return h.scaler }

// finish converts a component call into a Result. Uncoded errors are
// logged and also returned so callers can treat them as fatal.
func finish[T any](h *Hub, op string, data T, err error) (Result[T], error) {
	if err == nil {
		return Result[T]{OK: true, Data: data}, nil
	}
	res := Result[T]{Error: errorBody(err)}
	if structured(err) {
		h.logger.Debug("operation rejected", "op", op, "code", string(res.Error.Code), "error", err)
		return res, nil
	}
	h.logger.Error("operation failed", "op", op, "error", err)
	return res, err
}

// reject reports an error raised before the operation ran.
func reject[T any](h *Hub, op string, err error) (Result[T], error) {
	var zero T
	return finish(h, op, zero, err)
}

// -----------------------------------------------------------------------------
// Teams
// -----------------------------------------------------------------------------

// InitTeam creates a team with its initial workers.
func (h *Hub) InitTeam(ctx context.Context, in team.InitInput) (Result[*team.Config], error) {
	cfg, err := h.teams.Init(ctx, in)
	return finish(h, "init_team", cfg, err)
}

// WorkerView is one roster entry with its current status.
type WorkerView struct {
	team.Worker
	Status team.WorkerStatus `json:"status"`
}

// TeamStatus is a snapshot of a team.
type TeamStatus struct {
	Team            *team.Config      `json:"team"`
	Workers         []WorkerView      `json:"workers"`
	Tasks           taskqueue.Summary `json:"tasks"`
	PendingDispatch int               `json:"pending_dispatch"`
	ScalingEnabled  bool              `json:"scaling_enabled"`
}

// TeamStatus returns the roster, worker states, and task counts of a team.
func (h *Hub) TeamStatus(ctx context.Context, teamName string) (Result[*TeamStatus], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*TeamStatus](h, "team_status", err)
	}
	status, err := h.teamStatus(ctx, teamName)
	return finish(h, "team_status", status, err)
}

func (h *Hub) teamStatus(ctx context.Context, teamName string) (*TeamStatus, error) {
	cfg, err := h.teams.Load(ctx, teamName)
	if err != nil {
		return nil, err
	}
	statuses, err := h.teams.Statuses(cfg)
	if err != nil {
		return nil, err
	}
	summary, err := h.tasks.Summary(ctx, teamName)
	if err != nil {
		return nil, err
	}
	pending, err := h.dispatch.PendingRequests(ctx, teamName)
	if err != nil {
		return nil, err
	}

	out := &TeamStatus{
		Team:            cfg,
		Workers:         make([]WorkerView, 0, len(cfg.Workers)),
		Tasks:           summary,
		PendingDispatch: len(pending),
		ScalingEnabled:  h.scaler.Enabled(),
	}
	for _, w := range cfg.Workers {
		out.Workers = append(out.Workers, WorkerView{Worker: w, Status: statuses[w.Name]})
	}
	return out, nil
}

// SetWorkerStatus records a worker's self-reported state. Workers cannot
// enter or leave draining themselves: while draining, only the current task
// and reason are updated.
func (h *Hub) SetWorkerStatus(ctx context.Context, teamName, worker string, workerState team.State, currentTask, reason string) (Result[*team.WorkerStatus], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*team.WorkerStatus](h, "set_worker_status", err)
	}
	ws, err := h.setWorkerStatus(ctx, teamName, worker, workerState, currentTask, reason)
	return finish(h, "set_worker_status", ws, err)
}

func (h *Hub) setWorkerStatus(ctx context.Context, teamName, worker string, workerState team.State, currentTask, reason string) (*team.WorkerStatus, error) {
	if workerState == team.StateDraining {
		return nil, apperrors.NewValidationError("draining is set by scale-down only").
			WithField("state").WithValue(string(workerState))
	}
	cfg, err := h.teams.Load(ctx, teamName)
	if err != nil {
		return nil, err
	}
	if _, ok := cfg.Worker(worker); !ok {
		return nil, apperrors.NewValidationError("unknown worker").WithField("worker").WithValue(worker)
	}
	current, err := h.teams.ReadStatus(teamName, worker)
	if err != nil {
		return nil, err
	}

	next := team.WorkerStatus{State: workerState, CurrentTaskID: currentTask, Reason: reason}
	if workerState != team.StateWorking {
		next.CurrentTaskID = ""
	}
	if current.State == team.StateDraining {
		next.State = team.StateDraining
	}
	if err := h.teams.WriteStatus(teamName, worker, next); err != nil {
		return nil, err
	}
	return h.readStatus(teamName, worker)
}

func (h *Hub) readStatus(teamName, worker string) (*team.WorkerStatus, error) {
	ws, err := h.teams.ReadStatus(teamName, worker)
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// -----------------------------------------------------------------------------
// Tasks
// -----------------------------------------------------------------------------

// CreateTask adds a pending task.
func (h *Hub) CreateTask(ctx context.Context, teamName string, in taskqueue.CreateInput) (Result[*taskqueue.Task], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*taskqueue.Task](h, "create_task", err)
	}
	t, err := h.tasks.CreateTask(ctx, teamName, in)
	return finish(h, "create_task", t, err)
}

// ReadTask returns one task.
func (h *Hub) ReadTask(ctx context.Context, teamName, id string) (Result[*taskqueue.Task], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*taskqueue.Task](h, "read_task", err)
	}
	t, err := h.tasks.ReadTask(ctx, teamName, id)
	return finish(h, "read_task", t, err)
}

// ListTasks returns the team's tasks matching f, ordered by id.
func (h *Hub) ListTasks(ctx context.Context, teamName string, f taskqueue.Filter) (Result[[]taskqueue.Task], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]taskqueue.Task](h, "list_tasks", err)
	}
	ts, err := h.tasks.ListTasks(ctx, teamName, f)
	if ts == nil && err == nil {
		ts = []taskqueue.Task{}
	}
	return finish(h, "list_tasks", ts, err)
}

// ClaimTask claims a task for worker. A nil expectedVersion never takes
// over an in-progress task.
func (h *Hub) ClaimTask(ctx context.Context, teamName, id, worker string, expectedVersion *int) (Result[*taskqueue.ClaimResult], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*taskqueue.ClaimResult](h, "claim_task", err)
	}
	cr, err := h.tasks.ClaimTask(ctx, teamName, id, worker, expectedVersion)
	return finish(h, "claim_task", cr, err)
}

// TransitionTaskStatus moves a claimed task from one status to another.
func (h *Hub) TransitionTaskStatus(ctx context.Context, teamName, id string, from, to taskqueue.Status, token string, in taskqueue.TransitionInput) (Result[*taskqueue.Task], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*taskqueue.Task](h, "transition_task_status", err)
	}
	t, err := h.tasks.TransitionTask(ctx, teamName, id, from, to, token, in)
	return finish(h, "transition_task_status", t, err)
}

// UpdateTask changes a task's metadata fields.
func (h *Hub) UpdateTask(ctx context.Context, teamName, id string, fields map[string]any) (Result[*taskqueue.Task], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*taskqueue.Task](h, "update_task", err)
	}
	t, err := h.tasks.UpdateTask(ctx, teamName, id, fields)
	return finish(h, "update_task", t, err)
}

// ReleaseExpiredClaims returns tasks whose claim lease has lapsed to
// pending and reports their ids.
func (h *Hub) ReleaseExpiredClaims(ctx context.Context, teamName string) (Result[[]string], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]string](h, "release_expired_claims", err)
	}
	ids, err := h.tasks.ReleaseExpiredClaims(ctx, teamName, h.now())
	if ids == nil && err == nil {
		ids = []string{}
	}
	return finish(h, "release_expired_claims", ids, err)
}

// -----------------------------------------------------------------------------
// Messaging
// -----------------------------------------------------------------------------

// Delivery is a persisted message together with its dispatch outcome.
type Delivery struct {
	Message  mailbox.Message  `json:"message"`
	Dispatch dispatch.Outcome `json:"dispatch"`
}

// SendMessage stores a message for one recipient and notifies it.
func (h *Hub) SendMessage(ctx context.Context, teamName, from, to, body string) (Result[*Delivery], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*Delivery](h, "send_message", err)
	}
	msg, out, err := h.dispatch.SendMessage(ctx, teamName, from, to, body)
	var d *Delivery
	if msg != nil {
		d = &Delivery{Message: *msg, Dispatch: out}
	}
	return finish(h, "send_message", d, err)
}

// Broadcast stores a message for every worker except from and notifies
// each of them.
func (h *Hub) Broadcast(ctx context.Context, teamName, from, body string) (Result[[]Delivery], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]Delivery](h, "broadcast", err)
	}
	msgs, outs, err := h.dispatch.Broadcast(ctx, teamName, from, body)
	ds := make([]Delivery, len(msgs))
	for i := range msgs {
		ds[i].Message = msgs[i]
		if i < len(outs) {
			ds[i].Dispatch = outs[i]
		}
	}
	return finish(h, "broadcast", ds, err)
}

// MailboxList returns a worker's messages. Delivered messages are only
// included when includeDelivered is set.
func (h *Hub) MailboxList(ctx context.Context, teamName, worker string, includeDelivered bool) (Result[[]mailbox.Message], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]mailbox.Message](h, "mailbox_list", err)
	}
	msgs, err := h.mail.List(ctx, teamName, worker, includeDelivered)
	if msgs == nil && err == nil {
		msgs = []mailbox.Message{}
	}
	return finish(h, "mailbox_list", msgs, err)
}

// MailboxMarkNotified records that a worker was told about a message.
func (h *Hub) MailboxMarkNotified(ctx context.Context, teamName, worker, id string) (Result[*mailbox.Message], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*mailbox.Message](h, "mailbox_mark_notified", err)
	}
	msg, err := h.mail.MarkNotified(ctx, teamName, worker, id)
	return finish(h, "mailbox_mark_notified", msg, err)
}

// MailboxMarkDelivered records that a worker has read a message.
func (h *Hub) MailboxMarkDelivered(ctx context.Context, teamName, worker, id string) (Result[*mailbox.Message], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*mailbox.Message](h, "mailbox_mark_delivered", err)
	}
	msg, err := h.mail.MarkDelivered(ctx, teamName, worker, id)
	return finish(h, "mailbox_mark_delivered", msg, err)
}

// WriteInbox replaces a worker's inbox and notifies it.
func (h *Hub) WriteInbox(ctx context.Context, teamName, worker, content, trigger string) (Result[dispatch.Outcome], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[dispatch.Outcome](h, "write_inbox", err)
	}
	out, err := h.dispatch.WriteInbox(ctx, teamName, worker, content, trigger)
	return finish(h, "write_inbox", out, err)
}

// ReadInbox returns a worker's inbox content.
func (h *Hub) ReadInbox(_ context.Context, teamName, worker string) (Result[string], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[string](h, "read_inbox", err)
	}
	content, err := h.dispatch.ReadInbox(teamName, worker)
	return finish(h, "read_inbox", content, err)
}

// HookPickups drains the notifications queued for a worker's hook.
func (h *Hub) HookPickups(_ context.Context, teamName, worker string) (Result[[]dispatch.Pickup], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]dispatch.Pickup](h, "hook_pickups", err)
	}
	if err := team.ValidateWorkerName(worker); err != nil && worker != team.LeaderName {
		return reject[[]dispatch.Pickup](h, "hook_pickups", err)
	}
	ps, err := h.hooks.Pickups(teamName, worker)
	if ps == nil && err == nil {
		ps = []dispatch.Pickup{}
	}
	return finish(h, "hook_pickups", ps, err)
}

// WriteReceipt confirms or refutes delivery of a dispatch request.
func (h *Hub) WriteReceipt(ctx context.Context, teamName, requestID string, status dispatch.ReceiptStatus, reason string) (Result[*dispatch.Receipt], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*dispatch.Receipt](h, "write_receipt", err)
	}
	r, err := h.dispatch.WriteReceipt(ctx, teamName, requestID, status, reason)
	return finish(h, "write_receipt", r, err)
}

// DispatchRequests lists dispatch requests, optionally by status.
func (h *Hub) DispatchRequests(ctx context.Context, teamName string, status dispatch.Status) (Result[[]dispatch.Request], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]dispatch.Request](h, "dispatch_requests", err)
	}
	rs, err := h.dispatch.ListRequests(ctx, teamName, status)
	if rs == nil && err == nil {
		rs = []dispatch.Request{}
	}
	return finish(h, "dispatch_requests", rs, err)
}

// ExpireDispatchRequests fails pending requests that have outlived the
// pending expiry and returns them.
func (h *Hub) ExpireDispatchRequests(ctx context.Context, teamName string) (Result[[]dispatch.Request], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[[]dispatch.Request](h, "expire_dispatch_requests", err)
	}
	rs, err := h.dispatch.ExpirePending(ctx, teamName)
	if rs == nil && err == nil {
		rs = []dispatch.Request{}
	}
	return finish(h, "expire_dispatch_requests", rs, err)
}

// FailDispatchRequest marks one pending request failed so that an
// equivalent dispatch is no longer deduplicated against it.
func (h *Hub) FailDispatchRequest(ctx context.Context, teamName, requestID, reason string) (Result[*dispatch.Request], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*dispatch.Request](h, "fail_dispatch_request", err)
	}
	r, err := h.dispatch.FailPending(ctx, teamName, requestID, reason)
	return finish(h, "fail_dispatch_request", r, err)
}

// -----------------------------------------------------------------------------
// Scaling
// -----------------------------------------------------------------------------

// ScaleUp adds workers to a running team.
func (h *Hub) ScaleUp(ctx context.Context, teamName string, in scaling.ScaleUpInput) (Result[*scaling.ScaleUpResult], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*scaling.ScaleUpResult](h, "scale_up", err)
	}
	r, err := h.scaler.ScaleUp(ctx, teamName, in)
	return finish(h, "scale_up", r, err)
}

// ScaleDown removes workers from a running team.
func (h *Hub) ScaleDown(ctx context.Context, teamName string, in scaling.ScaleDownInput) (Result[*scaling.ScaleDownResult], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[*scaling.ScaleDownResult](h, "scale_down", err)
	}
	r, err := h.scaler.ScaleDown(ctx, teamName, in)
	return finish(h, "scale_down", r, err)
}

// Recommend evaluates the scaling policy against the team's queue. It only
// advises; nothing is spawned or terminated.
func (h *Hub) Recommend(ctx context.Context, teamName string) (Result[scaling.Decision], error) {
	teamName, err := team.ResolveName(teamName)
	if err != nil {
		return reject[scaling.Decision](h, "recommend", err)
	}
	d, err := h.recommend(ctx, teamName)
	return finish(h, "recommend", d, err)
}

func (h *Hub) recommend(ctx context.Context, teamName string) (scaling.Decision, error) {
	cfg, err := h.teams.Load(ctx, teamName)
	if err != nil {
		return scaling.Decision{}, err
	}
	summary, err := h.tasks.Summary(ctx, teamName)
	if err != nil {
		return scaling.Decision{}, err
	}
	return h.policy.Evaluate(summary, len(cfg.Workers), cfg.MaxWorkers), nil
}
