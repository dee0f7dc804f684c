package scaling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/teamwork/internal/dispatch"
	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/lock"
	"github.com/Iron-Ham/teamwork/internal/logging"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
)

// assigneeAnnotation records which new worker a scale-up task was created for.
const assigneeAnnotation = "assignee"

// Manager adds workers to and removes workers from running teams. Every
// call holds the team's exclusion lock for its whole duration.
type Manager struct {
	teams      *team.Store
	tasks      *taskqueue.Registry
	dispatcher *dispatch.Coordinator
	spawner    Spawner

	enabled      bool
	readyTimeout time.Duration
	drainTimeout time.Duration
	drainPoll    time.Duration
	lockOpts     []lock.Option

	logger *logging.Logger
	bus    *event.Bus
}

// NewManager creates a Manager. Scaling stays disabled until WithEnabled(true).
func NewManager(teams *team.Store, tasks *taskqueue.Registry, dispatcher *dispatch.Coordinator, spawner Spawner, opts ...Option) *Manager {
	m := &Manager{
		teams:        teams,
		tasks:        tasks,
		dispatcher:   dispatcher,
		spawner:      spawner,
		readyTimeout: DefaultReadyTimeout,
		drainTimeout: DefaultDrainTimeout,
		drainPoll:    DefaultDrainPoll,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).WithComponent("scaling")
	m.lockOpts = append([]lock.Option{lock.WithLogger(m.logger), lock.WithHolder("scaling")}, m.lockOpts...)
	return m
}

// Enabled reports whether scaling is turned on.
func (m *Manager) Enabled() bool { return m.enabled }

func (m *Manager) checkEnabled() error {
	if !m.enabled {
		return apperrors.Coded(apperrors.CodeScalingDisabled, "scaling disabled")
	}
	if m.spawner == nil {
		return apperrors.Coded(apperrors.CodeScalingDisabled, "scaling disabled: no spawner configured")
	}
	return nil
}

func (m *Manager) teamLock(teamName string) *lock.Lock {
	st := m.teams.State()
	return lock.ForTeam(st.Fs(), st.Path(team.Dir(teamName)), m.lockOpts...)
}

// withTeamLock loads the team to fail fast on a missing team, then runs fn
// under the team lock.
func (m *Manager) withTeamLock(ctx context.Context, teamName string, fn func(ctx context.Context) error) error {
	if _, err := m.teams.Load(ctx, teamName); err != nil {
		return err
	}
	return m.teamLock(teamName).With(ctx, fn)
}

// ScaleUp spawns in.Count workers, creates in.Tasks for them, bootstraps
// each through its inbox, and then adds them to the roster. Indices are
// reserved before anything is spawned and are consumed even if the call
// fails. A failed spawn or bootstrap terminates everything this call
// spawned and leaves the roster unchanged.
func (m *Manager) ScaleUp(ctx context.Context, teamName string, in ScaleUpInput) (*ScaleUpResult, error) {
	if err := m.checkEnabled(); err != nil {
		return nil, err
	}
	if in.Count < 1 {
		return nil, apperrors.NewValidationError("count must be a positive integer").WithField("count").WithValue(in.Count)
	}
	for i, spec := range in.Tasks {
		if strings.TrimSpace(spec.Subject) == "" {
			return nil, apperrors.NewValidationError(fmt.Sprintf("task %d has no subject", i)).WithField("tasks")
		}
	}

	var res *ScaleUpResult
	err := m.withTeamLock(ctx, teamName, func(ctx context.Context) error {
		var err error
		res, err = m.scaleUp(ctx, teamName, in)
		return err
	})
	return res, err
}

func (m *Manager) scaleUp(ctx context.Context, teamName string, in ScaleUpInput) (*ScaleUpResult, error) {
	cfg, err := m.teams.Load(ctx, teamName)
	if err != nil {
		return nil, err
	}
	if cfg.WorkerCount+in.Count > cfg.MaxWorkers {
		return nil, apperrors.NewValidationError(fmt.Sprintf("team has %d of %d workers; cannot add %d",
			cfg.WorkerCount, cfg.MaxWorkers, in.Count)).WithField("count").WithValue(in.Count)
	}
	if err := m.checkTaskDependencies(ctx, teamName, in.Tasks); err != nil {
		return nil, err
	}

	var indices []int
	cfg, err = m.teams.Update(ctx, teamName, func(c *team.Config) error {
		indices = c.ReserveIndices(in.Count)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := m.logger.WithTeam(teamName)
	log.Info("scaling up", "count", in.Count, "first_index", indices[0], "next_worker_index", cfg.NextWorkerIndex)

	u := &scaleUpRun{m: m, team: teamName, log: log}

	for _, idx := range indices {
		name := team.WorkerName(idx)
		h, err := m.spawner.Spawn(ctx, SpawnRequest{
			Team:       teamName,
			Session:    cfg.TmuxSession,
			Worker:     name,
			Index:      idx,
			LaunchArgs: in.LaunchArgs,
			Cwd:        in.Cwd,
			Env:        in.Env,
		})
		if err != nil {
			u.rollback(ctx)
			return nil, apperrors.NewTransportError("spawn", name, err)
		}
		u.spawned = append(u.spawned, h)
		if !m.spawner.WaitReady(ctx, h, m.readyTimeout) {
			log.Warn("worker not ready before timeout, continuing", "worker", name, "timeout", m.readyTimeout.String())
		}
		u.workers = append(u.workers, team.Worker{
			Name:       name,
			Index:      idx,
			Role:       in.Role,
			PID:        h.PID,
			PaneID:     h.PaneID,
			WorkingDir: in.Cwd,
		})
	}

	assigned, err := u.createTasks(ctx, in.Tasks)
	if err != nil {
		u.rollback(ctx)
		return nil, err
	}

	outcomes := make([]dispatch.Outcome, 0, len(u.workers))
	for i := range u.workers {
		w := &u.workers[i]
		target := dispatch.Target{Team: teamName, Worker: w.Name, Index: w.Index, PaneID: w.PaneID}
		out, err := m.dispatcher.WriteInboxTo(ctx, target, bootstrapInbox(cfg, w, assigned[w.Name]), "")
		if err != nil {
			u.rollback(ctx)
			return nil, err
		}
		outcomes = append(outcomes, out)
		if !out.OK && !out.Deduped {
			u.rollback(ctx)
			return nil, apperrors.NewTransportError("bootstrap", w.Name, apperrors.New(out.Reason))
		}
	}

	cfg, err = m.teams.Update(ctx, teamName, func(c *team.Config) error {
		c.AddWorkers(u.workers...)
		return nil
	})
	if err != nil {
		u.rollback(ctx)
		return nil, err
	}

	names := make([]string, len(u.workers))
	for i, w := range u.workers {
		names[i] = w.Name
		m.bus.Publish(event.NewWorkerAddedEvent(teamName, w.Name, w.Index, w.PaneID))
	}
	m.bus.Publish(event.NewTeamScaledEvent(teamName, event.ScaleUp, names, cfg.WorkerCount))
	log.Info("scaled up", "workers", names, "worker_count", cfg.WorkerCount)

	return &ScaleUpResult{
		Team:            teamName,
		Added:           u.workers,
		Bootstrap:       outcomes,
		WorkerCount:     cfg.WorkerCount,
		NextWorkerIndex: cfg.NextWorkerIndex,
	}, nil
}

// checkTaskDependencies rejects specs whose blocked_by ids do not exist
// before any index is reserved.
func (m *Manager) checkTaskDependencies(ctx context.Context, teamName string, specs []TaskSpec) error {
	for _, spec := range specs {
		for _, id := range spec.BlockedBy {
			if _, err := m.tasks.ReadTask(ctx, teamName, id); err != nil {
				if apperrors.Is(err, apperrors.ErrNotFound) {
					return apperrors.NewValidationError(fmt.Sprintf("blocked_by references unknown task %q", id)).
						WithField("blocked_by").WithValue(id)
				}
				return err
			}
		}
	}
	return nil
}

// scaleUpRun tracks what one scale-up has done so it can be undone.
type scaleUpRun struct {
	m       *Manager
	team    string
	log     *logging.Logger
	spawned []Handle
	workers []team.Worker
	created []string
}

// createTasks creates specs round-robin across the new workers and records
// the assignment on each worker.
func (u *scaleUpRun) createTasks(ctx context.Context, specs []TaskSpec) (map[string][]*taskqueue.Task, error) {
	assigned := make(map[string][]*taskqueue.Task, len(u.workers))
	for i, spec := range specs {
		w := &u.workers[i%len(u.workers)]
		t, err := u.m.tasks.CreateTask(ctx, u.team, taskqueue.CreateInput{
			Subject:     spec.Subject,
			Description: spec.Description,
			BlockedBy:   spec.BlockedBy,
			Annotations: map[string]string{assigneeAnnotation: w.Name},
		})
		if err != nil {
			return nil, err
		}
		u.created = append(u.created, t.ID)
		w.AssignedTasks = append(w.AssignedTasks, t.ID)
		assigned[w.Name] = append(assigned[w.Name], t)
	}
	return assigned, nil
}

// rollback terminates spawned panes, unassigns created tasks, and removes
// per-worker state. Errors are logged; the original failure is what the
// caller reports.
func (u *scaleUpRun) rollback(ctx context.Context) {
	u.log.Warn("scale-up failed, rolling back", "spawned", len(u.spawned), "tasks", len(u.created))
	for _, h := range u.spawned {
		if err := u.m.spawner.Terminate(ctx, h); err != nil {
			u.log.Warn("failed to terminate worker during rollback", "pane_id", h.PaneID, "pid", h.PID, "error", err)
		}
	}
	for _, id := range u.created {
		fields := map[string]any{"annotations": map[string]string{assigneeAnnotation: ""}}
		if _, err := u.m.tasks.UpdateTask(ctx, u.team, id, fields); err != nil {
			u.log.Warn("failed to unassign task during rollback", "task_id", id, "error", err)
		}
	}
	for _, w := range u.workers {
		if err := u.m.teams.RemoveWorkerState(u.team, w.Name); err != nil {
			u.log.Warn("failed to remove worker state during rollback", "worker", w.Name, "error", err)
		}
	}
}

func bootstrapInbox(cfg *team.Config, w *team.Worker, tasks []*taskqueue.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Team %s\n\n", cfg.Name)
	fmt.Fprintf(&b, "You are %s", w.Name)
	if w.Role != "" {
		fmt.Fprintf(&b, " (role: %s)", w.Role)
	}
	b.WriteString(".\n\n")

	if len(tasks) == 0 {
		b.WriteString("No tasks are assigned to you yet. Check the task list for ready work.\n\n")
	} else {
		b.WriteString("## Assigned tasks\n\n")
		for _, t := range tasks {
			fmt.Fprintf(&b, "- Task %s: %s\n", t.ID, t.Subject)
			if t.Description != "" {
				fmt.Fprintf(&b, "  %s\n", strings.ReplaceAll(t.Description, "\n", "\n  "))
			}
			if len(t.BlockedBy) > 0 {
				fmt.Fprintf(&b, "  Blocked by: %s\n", strings.Join(t.BlockedBy, ", "))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Protocol\n\n")
	fmt.Fprintf(&b, "- Claim before starting: teamwork task claim --team %s --worker %s <id>\n", cfg.Name, w.Name)
	fmt.Fprintf(&b, "- Finish with the claim token: teamwork task transition --team %s <id> --from in_progress --to completed --token <token>\n", cfg.Name)
	fmt.Fprintf(&b, "- Read messages: teamwork msg list --team %s --worker %s\n", cfg.Name, w.Name)
	fmt.Fprintf(&b, "- Message the leader: teamwork msg send --team %s --from %s --to %s <body>\n", cfg.Name, w.Name, team.LeaderName)
	return b.String()
}
