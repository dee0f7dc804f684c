package taskqueue

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/google/uuid"
)

// Registry manages the tasks of every team under one state root.
type Registry struct {
	st     *state.Store
	logger *logging.Logger
	bus    *event.Bus
	now    func() time.Time
	lease  time.Duration
}

// New creates a Registry.
func New(st *state.Store, opts ...Option) *Registry {
	r := &Registry{st: st, now: time.Now, lease: DefaultClaimLease}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger).WithComponent("tasks")
	return r
}

func taskPath(teamName, id string) string {
	return filepath.Join(team.TasksDir(teamName), "task-"+id+".json")
}

func counterPath(teamName string) string {
	return filepath.Join(team.TasksDir(teamName), "counter.json")
}

func (r *Registry) requireTeam(teamName string) error {
	ok, err := r.st.Exists(team.ConfigPath(teamName))
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewNotFoundError("team", teamName)
	}
	return nil
}

func validID(id string) error {
	if _, err := strconv.Atoi(id); err != nil || strings.HasPrefix(id, "-") {
		return apperrors.NewValidationError(fmt.Sprintf("task id %q is not a task number", id)).WithField("task_id")
	}
	return nil
}

// CreateTask adds a pending task at version 1.
func (r *Registry) CreateTask(ctx context.Context, teamName string, in CreateInput) (*Task, error) {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, apperrors.NewValidationError("subject is required").WithField("subject")
	}
	if err := r.requireTeam(teamName); err != nil {
		return nil, err
	}
	blockedBy, err := r.checkDependencies(teamName, "", in.BlockedBy)
	if err != nil {
		return nil, err
	}

	var c counter
	err = r.st.Update(ctx, counterPath(teamName), &c, func(bool) error {
		if c.Next < 1 {
			c.Next = 1
		}
		c.Next++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("allocate task id: %w", err)
	}
	id := strconv.Itoa(c.Next - 1)

	now := r.now().UTC()
	task := &Task{
		ID:          id,
		Subject:     subject,
		Description: in.Description,
		Status:      StatusPending,
		Version:     1,
		BlockedBy:   blockedBy,
		Annotations: in.Annotations,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.st.WriteJSON(taskPath(teamName, id), task); err != nil {
		return nil, err
	}

	r.logger.Debug("task created", "team", teamName, "task_id", id, "subject", subject)
	r.bus.Publish(event.NewTaskCreatedEvent(teamName, id, subject))
	return task, nil
}

// ReadTask returns one task.
func (r *Registry) ReadTask(_ context.Context, teamName, id string) (*Task, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var t Task
	found, err := r.st.ReadJSON(taskPath(teamName, id), &t)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFoundError("task", id)
	}
	return &t, nil
}

// ListTasks returns the team's tasks matching f, ordered by numeric id.
func (r *Registry) ListTasks(_ context.Context, teamName string, f Filter) ([]Task, error) {
	names, err := r.st.List(team.TasksDir(teamName))
	if err != nil {
		return nil, err
	}

	type entry struct {
		n    int
		task Task
	}
	var entries []entry
	for _, name := range names {
		if !strings.HasPrefix(name, "task-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "task-"), ".json")
		n, convErr := strconv.Atoi(id)
		if convErr != nil {
			continue
		}
		var t Task
		found, err := r.st.ReadJSON(taskPath(teamName, id), &t)
		if err != nil {
			return nil, err
		}
		if !found || !f.match(&t) {
			continue
		}
		entries = append(entries, entry{n: n, task: t})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].n < entries[j].n })

	out := make([]Task, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	return out, nil
}

// ClaimTask gives worker exclusive working rights on a task.
//
// A pending task is claimable once its dependencies are completed. An
// in-progress task can only be taken over by a caller passing the current
// version as expectedVersion; without it the claim is always a
// claim_conflict, even for the current owner retrying. Terminal tasks return
// already_terminal.
func (r *Registry) ClaimTask(ctx context.Context, teamName, id, worker string, expectedVersion *int) (*ClaimResult, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(worker) == "" {
		return nil, apperrors.NewValidationError("worker is required").WithField("worker")
	}
	if expectedVersion != nil && *expectedVersion < 1 {
		return nil, apperrors.NewValidationError("expected version must be a positive integer").
			WithField("expected_version").WithValue(*expectedVersion)
	}

	var t Task
	var takeover bool
	var previousOwner string
	err := r.st.Update(ctx, taskPath(teamName, id), &t, func(found bool) error {
		if !found {
			return apperrors.NewNotFoundError("task", id)
		}
		if t.Status.IsTerminal() {
			return apperrors.NewConflictError(apperrors.CodeAlreadyTerminal, "task", id).
				WithMessage("task is already %s", t.Status)
		}
		if expectedVersion != nil && *expectedVersion != t.Version {
			return apperrors.NewConflictError(apperrors.CodeClaimConflict, "task", id).
				WithMessage("expected version %d, task is at version %d", *expectedVersion, t.Version)
		}
		switch t.Status {
		case StatusInProgress:
			if expectedVersion == nil {
				return apperrors.NewConflictError(apperrors.CodeClaimConflict, "task", id).
					WithMessage("task is already in progress (owner %s); pass the expected version to take it over", t.Owner)
			}
			takeover = true
			previousOwner = t.Owner
		case StatusPending:
			if err := r.checkUnblocked(teamName, &t); err != nil {
				return err
			}
		}

		now := r.now().UTC()
		t.Status = StatusInProgress
		t.Owner = worker
		t.Version++
		t.Claim = &Claim{
			Token:       uuid.NewString(),
			Worker:      worker,
			ClaimedAt:   now,
			LeasedUntil: now.Add(r.lease),
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := r.logger.With("team", teamName, "task_id", id, "worker", worker, "version", t.Version)
	if takeover {
		log.Info("task taken over", "previous_owner", previousOwner)
	} else {
		log.Debug("task claimed")
	}
	r.bus.Publish(event.NewTaskClaimedEvent(teamName, id, worker, t.Version, takeover))
	return &ClaimResult{Task: &t, Token: t.Claim.Token}, nil
}

// TransitionTask moves a claimed task from one status to another. The
// caller must present the token issued by ClaimTask. Terminal tasks are
// never changed, even with a token that was once valid.
func (r *Registry) TransitionTask(ctx context.Context, teamName, id string, from, to Status, token string, in TransitionInput) (*Task, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if !from.IsValid() {
		return nil, apperrors.NewValidationError("unknown status").WithField("from").WithValue(string(from))
	}
	if !to.IsValid() {
		return nil, apperrors.NewValidationError("unknown status").WithField("to").WithValue(string(to))
	}
	if token == "" {
		return nil, apperrors.NewValidationError("claim token is required").WithField("claim_token")
	}

	var t Task
	var worker string
	err := r.st.Update(ctx, taskPath(teamName, id), &t, func(found bool) error {
		if !found {
			return apperrors.NewNotFoundError("task", id)
		}
		if t.Status.IsTerminal() {
			return apperrors.NewConflictError(apperrors.CodeAlreadyTerminal, "task", id).
				WithMessage("task is already %s", t.Status)
		}
		if t.Claim == nil || t.Claim.Token != token {
			return apperrors.NewConflictError(apperrors.CodeClaimConflict, "task", id).
				WithMessage("claim token does not match the current claim")
		}
		if t.Status != from {
			return apperrors.NewConflictError(apperrors.CodeInvalidTransition, "task", id).
				WithMessage("task is %s, not %s", t.Status, from)
		}
		if !transitionAllowed(from, to) {
			return apperrors.NewConflictError(apperrors.CodeInvalidTransition, "task", id).
				WithMessage("cannot move task from %s to %s", from, to)
		}

		now := r.now().UTC()
		worker = t.Claim.Worker
		t.Status = to
		t.Claim = nil
		t.Version++
		t.UpdatedAt = now
		switch {
		case to.IsTerminal():
			t.CompletedAt = &now
			t.Result = in.Result
			t.Error = in.Error
		case to == StatusPending:
			t.Owner = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("task transitioned",
		"team", teamName, "task_id", id, "worker", worker,
		"from", string(from), "to", string(to), "version", t.Version)
	r.bus.Publish(event.NewTaskTransitionedEvent(teamName, id, worker, string(from), string(to)))
	return &t, nil
}

// lifecycleFields may only change through ClaimTask and TransitionTask.
var lifecycleFields = map[string]bool{
	"status": true,
	"owner":  true,
	"result": true,
	"error":  true,
}

// UpdateTask edits task metadata: subject, description, annotations and
// blocked_by. Lifecycle fields and any other key are rejected by name.
func (r *Registry) UpdateTask(ctx context.Context, teamName, id string, fields map[string]any) (*Task, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, apperrors.NewValidationError("no fields to update").WithField("fields")
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if lifecycleFields[k] {
			return nil, apperrors.NewValidationError(
				fmt.Sprintf("%s is a lifecycle field and can only change through claim or transition", k)).WithField(k)
		}
	}

	var patch taskPatch
	for _, k := range keys {
		if err := patch.set(k, fields[k]); err != nil {
			return nil, err
		}
	}
	if patch.blockedBy != nil {
		var err error
		if *patch.blockedBy, err = r.checkDependencies(teamName, id, *patch.blockedBy); err != nil {
			return nil, err
		}
	}

	var t Task
	err := r.st.Update(ctx, taskPath(teamName, id), &t, func(found bool) error {
		if !found {
			return apperrors.NewNotFoundError("task", id)
		}
		patch.apply(&t)
		t.Version++
		t.UpdatedAt = r.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("task updated", "team", teamName, "task_id", id, "fields", keys)
	r.bus.Publish(event.NewTaskUpdatedEvent(teamName, id, keys))
	return &t, nil
}

// ReleaseExpiredClaims returns in-progress tasks whose lease ended before
// now to pending and reports their ids.
func (r *Registry) ReleaseExpiredClaims(ctx context.Context, teamName string, now time.Time) ([]string, error) {
	return r.releaseWhere(ctx, teamName, "lease expired", func(t *Task) bool {
		return t.Claim != nil && t.Claim.LeasedUntil.Before(now)
	})
}

// ReleaseOwner returns every in-progress task owned by worker to pending.
// Used when a worker is removed from the team.
func (r *Registry) ReleaseOwner(ctx context.Context, teamName, worker, reason string) ([]string, error) {
	if reason == "" {
		reason = "owner removed"
	}
	return r.releaseWhere(ctx, teamName, reason, func(t *Task) bool {
		return t.Owner == worker
	})
}

func (r *Registry) releaseWhere(ctx context.Context, teamName, reason string, match func(*Task) bool) ([]string, error) {
	candidates, err := r.ListTasks(ctx, teamName, Filter{Status: StatusInProgress})
	if err != nil {
		return nil, err
	}

	var released []string
	for _, c := range candidates {
		if !match(&c) {
			continue
		}
		var t Task
		var owner string
		changed := false
		err := r.st.Update(ctx, taskPath(teamName, c.ID), &t, func(found bool) error {
			// Re-check under the per-file lock; the task may have moved on.
			if !found || t.Status != StatusInProgress || !match(&t) {
				return errUnchanged
			}
			owner = t.Owner
			t.Status = StatusPending
			t.Owner = ""
			t.Claim = nil
			t.Version++
			t.UpdatedAt = r.now().UTC()
			changed = true
			return nil
		})
		if err != nil && !apperrors.Is(err, errUnchanged) {
			return released, err
		}
		if !changed {
			continue
		}
		released = append(released, c.ID)
		r.logger.Info("task released", "team", teamName, "task_id", c.ID, "worker", owner, "reason", reason)
		r.bus.Publish(event.NewTaskReleasedEvent(teamName, c.ID, owner, reason))
	}
	return released, nil
}

var errUnchanged = apperrors.New("unchanged")

// Summary counts the team's tasks per status.
func (r *Registry) Summary(ctx context.Context, teamName string) (Summary, error) {
	tasks, err := r.ListTasks(ctx, teamName, Filter{})
	if err != nil {
		return Summary{}, err
	}
	statusByID := make(map[string]Status, len(tasks))
	for _, t := range tasks {
		statusByID[t.ID] = t.Status
	}

	var s Summary
	for _, t := range tasks {
		s.Total++
		switch t.Status {
		case StatusPending:
			s.Pending++
			if dependenciesDone(t.BlockedBy, statusByID) {
				s.Ready++
			}
		case StatusInProgress:
			s.InProgress++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
