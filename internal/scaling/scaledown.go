package scaling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/gobwas/glob"
	"github.com/sourcegraph/conc"
)

// ScaleDown drains and removes workers. Targets are marked draining, then,
// unless in.Force is set, waited on until drained or the drain timeout
// expires. Their panes are terminated, except a pane that is the leader or
// HUD pane, their in-progress tasks go back to pending, and they leave the
// roster. The team always keeps at least one worker.
func (m *Manager) ScaleDown(ctx context.Context, teamName string, in ScaleDownInput) (*ScaleDownResult, error) {
	if err := m.checkEnabled(); err != nil {
		return nil, err
	}
	switch {
	case len(in.WorkerNames) > 0 && in.Count > 0:
		return nil, apperrors.NewValidationError("give worker names or a count, not both").WithField("count")
	case len(in.WorkerNames) == 0 && in.Count < 1:
		return nil, apperrors.NewValidationError("count must be a positive integer").WithField("count").WithValue(in.Count)
	}

	var res *ScaleDownResult
	err := m.withTeamLock(ctx, teamName, func(ctx context.Context) error {
		var err error
		res, err = m.scaleDown(ctx, teamName, in)
		return err
	})
	return res, err
}

func (m *Manager) scaleDown(ctx context.Context, teamName string, in ScaleDownInput) (*ScaleDownResult, error) {
	cfg, err := m.teams.Load(ctx, teamName)
	if err != nil {
		return nil, err
	}
	statuses, err := m.teams.Statuses(cfg)
	if err != nil {
		return nil, err
	}

	var targets []team.Worker
	if len(in.WorkerNames) > 0 {
		targets, err = matchWorkers(cfg, in.WorkerNames)
	} else {
		targets, err = pickIdlest(cfg, statuses, in.Count, in.Force)
	}
	if err != nil {
		return nil, err
	}
	if remaining := cfg.WorkerCount - len(targets); remaining < 1 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("removing %d of %d workers would leave none", len(targets), cfg.WorkerCount)).
			WithField("count").WithCause(apperrors.ErrBelowMinimumWorker)
	}

	log := m.logger.WithTeam(teamName)
	log.Info("scaling down", "targets", workerNames(targets), "force", in.Force)

	for _, w := range targets {
		st := statuses[w.Name]
		st.State = team.StateDraining
		st.Reason = "scale-down"
		st.UpdatedAt = time.Time{}
		if err := m.teams.WriteStatus(teamName, w.Name, st); err != nil {
			return nil, err
		}
	}

	res := &ScaleDownResult{Team: teamName}
	if !in.Force {
		timeout := in.DrainTimeout
		if timeout <= 0 {
			timeout = m.drainTimeout
		}
		res.Undrained = m.drain(ctx, teamName, targets, timeout)
	}

	terminated := make(map[string]bool, len(targets))
	var removed []team.Worker
	for _, w := range targets {
		switch {
		case cfg.IsReservedPane(w.PaneID):
			log.Warn("refusing to terminate leader or HUD pane", "worker", w.Name, "pane_id", w.PaneID)
			res.Guarded = append(res.Guarded, w.Name)
		case w.PaneID == "" && w.PID <= 0:
		default:
			if err := m.spawner.Terminate(ctx, Handle{PaneID: w.PaneID, PID: w.PID}); err != nil {
				// A worker that may still be running stays on the roster,
				// draining, with its tasks and state intact.
				log.Warn("failed to terminate worker", "worker", w.Name, "pane_id", w.PaneID, "error", err)
				res.Failed = append(res.Failed, FailedWorker{Worker: w.Name, Reason: err.Error()})
				continue
			}
			terminated[w.Name] = true
		}
		removed = append(removed, w)
	}

	for _, w := range removed {
		ids, err := m.tasks.ReleaseOwner(ctx, teamName, w.Name, "worker removed by scale-down")
		if err != nil {
			return nil, err
		}
		res.Released = append(res.Released, ids...)
	}

	names := workerNames(removed)
	cfg, err = m.teams.Update(ctx, teamName, func(c *team.Config) error {
		c.RemoveWorkers(names...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, w := range removed {
		if err := m.teams.RemoveWorkerState(teamName, w.Name); err != nil {
			log.Warn("failed to remove worker state", "worker", w.Name, "error", err)
		}
		m.bus.Publish(event.NewWorkerRemovedEvent(teamName, w.Name, terminated[w.Name]))
	}
	m.bus.Publish(event.NewTeamScaledEvent(teamName, event.ScaleDown, names, cfg.WorkerCount))

	res.Removed = names
	res.WorkerCount = cfg.WorkerCount
	if len(res.Failed) > 0 {
		log.Warn("scale-down left workers running", "failed", len(res.Failed))
	}
	log.Info("scaled down", "removed", names, "worker_count", cfg.WorkerCount, "released_tasks", len(res.Released))
	return res, nil
}

// matchWorkers resolves names and glob patterns to roster workers in roster
// order. A literal name must exist; a pattern must match at least one worker.
func matchWorkers(cfg *team.Config, patterns []string) ([]team.Worker, error) {
	selected := make(map[string]bool)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == team.LeaderName {
			return nil, apperrors.NewValidationError("the leader cannot be scaled down").WithField("worker_names").WithValue(p)
		}
		if !strings.ContainsAny(p, "*?[{") {
			if _, ok := cfg.Worker(p); !ok {
				return nil, apperrors.NewValidationError(fmt.Sprintf("unknown worker %q", p)).WithField("worker_names").WithValue(p)
			}
			selected[p] = true
			continue
		}
		g, err := glob.Compile(p)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("invalid worker pattern %q", p)).
				WithField("worker_names").WithCause(err)
		}
		matched := false
		for _, w := range cfg.Workers {
			if g.Match(w.Name) {
				selected[w.Name] = true
				matched = true
			}
		}
		if !matched {
			return nil, apperrors.NewValidationError(fmt.Sprintf("pattern %q matches no worker", p)).WithField("worker_names").WithValue(p)
		}
	}

	var out []team.Worker
	for _, w := range cfg.Workers {
		if selected[w.Name] {
			out = append(out, w)
		}
	}
	return out, nil
}

// pickIdlest chooses n workers among idle, done, or unknown ones, highest
// index first. With force, busy workers fill the remainder, draining before
// working.
func pickIdlest(cfg *team.Config, statuses map[string]team.WorkerStatus, n int, force bool) ([]team.Worker, error) {
	var idle, busy []team.Worker
	for _, w := range cfg.Workers {
		if statuses[w.Name].State.IsIdle() {
			idle = append(idle, w)
		} else {
			busy = append(busy, w)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].Index > idle[j].Index })

	if len(idle) >= n {
		return idle[:n], nil
	}
	if !force {
		return nil, apperrors.NewValidationError(fmt.Sprintf("not enough idle workers: want %d, have %d", n, len(idle))).
			WithField("count").WithValue(n).WithCause(apperrors.ErrNotEnoughIdle)
	}

	busyRank := func(w team.Worker) int {
		if statuses[w.Name].State == team.StateDraining {
			return 0
		}
		return 1
	}
	sort.Slice(busy, func(i, j int) bool {
		ri, rj := busyRank(busy[i]), busyRank(busy[j])
		if ri != rj {
			return ri < rj
		}
		return busy[i].Index > busy[j].Index
	})
	out := append(idle, busy...)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// drain waits for every target concurrently and returns the names of those
// still busy when timeout expires, in target order.
func (m *Manager) drain(ctx context.Context, teamName string, targets []team.Worker, timeout time.Duration) []string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	drained := make([]bool, len(targets))
	var wg conc.WaitGroup
	for i, w := range targets {
		wg.Go(func() {
			drained[i] = m.waitDrained(ctx, teamName, w)
		})
	}
	wg.Wait()

	var undrained []string
	for i, ok := range drained {
		if !ok {
			undrained = append(undrained, targets[i].Name)
		}
	}
	if len(undrained) > 0 {
		m.logger.Warn("drain timeout expired, proceeding", "team", teamName, "workers", undrained, "timeout", timeout.String())
	}
	return undrained
}

func (m *Manager) waitDrained(ctx context.Context, teamName string, w team.Worker) bool {
	ticker := time.NewTicker(m.drainPoll)
	defer ticker.Stop()
	for {
		ok, err := m.isDrained(ctx, teamName, w)
		if err != nil {
			m.logger.Warn("drain check failed", "team", teamName, "worker", w.Name, "error", err)
		}
		if ok {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// isDrained reports whether w's process has exited, it reported idle or
// done, or it is draining with no current task and no in-progress task.
func (m *Manager) isDrained(ctx context.Context, teamName string, w team.Worker) (bool, error) {
	if (w.PaneID != "" || w.PID > 0) && !m.spawner.IsAlive(ctx, Handle{PaneID: w.PaneID, PID: w.PID}) {
		return true, nil
	}
	st, err := m.teams.ReadStatus(teamName, w.Name)
	if err != nil {
		return false, err
	}
	switch st.State {
	case team.StateIdle, team.StateDone:
		return true, nil
	case team.StateDraining:
		if st.CurrentTaskID != "" {
			return false, nil
		}
		owned, err := m.tasks.ListTasks(ctx, teamName, taskqueue.Filter{Status: taskqueue.StatusInProgress, Owner: w.Name})
		if err != nil {
			return false, err
		}
		return len(owned) == 0, nil
	default:
		return false, nil
	}
}

func workerNames(ws []team.Worker) []string {
	names := make([]string, len(ws))
	for i, w := range ws {
		names[i] = w.Name
	}
	return names
}
