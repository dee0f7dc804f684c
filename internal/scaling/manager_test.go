package scaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/teamwork/internal/dispatch"
	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/lock"
	"github.com/Iron-Ham/teamwork/internal/mailbox"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpawner struct {
	mu         sync.Mutex
	teams      *team.Store
	next       int
	alive      map[string]bool
	terminated []string
	sent       map[string][]string
	spawnLog   []string
	rosterSeen []int

	spawnErr   error
	spawnDelay time.Duration
	notReady   bool
	sendErr    error
	// stuck holds panes whose Terminate fails.
	stuck map[string]bool
}

func newFakeSpawner(teams *team.Store, initialPanes ...string) *fakeSpawner {
	f := &fakeSpawner{teams: teams, alive: map[string]bool{}, sent: map[string][]string{}}
	for _, p := range initialPanes {
		f.alive[p] = true
	}
	return f
}

func (f *fakeSpawner) Spawn(ctx context.Context, req SpawnRequest) (Handle, error) {
	cfg, err := f.teams.Load(ctx, req.Team)
	if err != nil {
		return Handle{}, err
	}
	f.mu.Lock()
	f.spawnLog = append(f.spawnLog, "start "+req.Worker)
	f.rosterSeen = append(f.rosterSeen, cfg.WorkerCount)
	delay, spawnErr := f.spawnDelay, f.spawnErr
	f.mu.Unlock()

	time.Sleep(delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawnLog = append(f.spawnLog, "end "+req.Worker)
	if spawnErr != nil {
		return Handle{}, spawnErr
	}
	f.next++
	pane := fmt.Sprintf("%%%d", 100+f.next)
	f.alive[pane] = true
	return Handle{PaneID: pane, PID: 40000 + req.Index}, nil
}

func (f *fakeSpawner) IsAlive(_ context.Context, h Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[h.PaneID]
}

func (f *fakeSpawner) SendText(_ context.Context, paneID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent[paneID] = append(f.sent[paneID], text)
	return nil
}

func (f *fakeSpawner) Terminate(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stuck[h.PaneID] {
		return fmt.Errorf("kill-pane %s: server not responding", h.PaneID)
	}
	f.alive[h.PaneID] = false
	f.terminated = append(f.terminated, h.PaneID)
	return nil
}

func (f *fakeSpawner) WaitReady(context.Context, Handle, time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notReady
}

func (f *fakeSpawner) terminatedPanes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.terminated...)
}

type env struct {
	st      *state.Store
	teams   *team.Store
	tasks   *taskqueue.Registry
	spawner *fakeSpawner
	mgr     *Manager
}

func newEnv(t *testing.T, workers, maxWorkers int, opts ...Option) *env {
	t.Helper()
	st := state.New(afero.NewMemMapFs(), "/proj/.teamwork")
	teams := team.NewStore(st)

	panes := make([]string, workers)
	for i := range panes {
		panes[i] = fmt.Sprintf("%%%d", i+1)
	}
	_, err := teams.Init(context.Background(), team.InitInput{
		Name:         "alpha",
		Workers:      workers,
		MaxWorkers:   maxWorkers,
		LeaderPaneID: "%0",
		HUDPaneID:    "%hud",
		Panes:        panes,
	})
	require.NoError(t, err)

	spawner := newFakeSpawner(teams, panes...)
	tasks := taskqueue.New(st)
	coord := dispatch.New(st, teams, mailbox.New(st),
		dispatch.WithNotifier(dispatch.PaneNotifier{Sender: spawner}),
		dispatch.WithPreference(dispatch.PreferTransportDirect),
	)
	base := []Option{
		WithEnabled(true),
		WithDrainPoll(5 * time.Millisecond),
		WithDrainTimeout(200 * time.Millisecond),
		WithLockOptions(lock.WithBackoff(time.Millisecond, 10*time.Millisecond)),
	}
	mgr := NewManager(teams, tasks, coord, spawner, append(base, opts...)...)
	return &env{st: st, teams: teams, tasks: tasks, spawner: spawner, mgr: mgr}
}

func (e *env) config(t *testing.T) *team.Config {
	t.Helper()
	cfg, err := e.teams.Load(context.Background(), "alpha")
	require.NoError(t, err)
	return cfg
}

func TestScaling_DisabledByDefault(t *testing.T) {
	e := newEnv(t, 1, 4, WithEnabled(false))

	_, err := e.mgr.ScaleUp(context.Background(), "alpha", ScaleUpInput{Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrScalingDisabled)
	assert.Equal(t, apperrors.CodeScalingDisabled, apperrors.CodeOf(err))

	_, err = e.mgr.ScaleDown(context.Background(), "alpha", ScaleDownInput{Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrScalingDisabled)
}

func TestScaleUp(t *testing.T) {
	e := newEnv(t, 2, 5)
	ctx := context.Background()
	require.Equal(t, 3, e.config(t).NextWorkerIndex)

	res, err := e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{
		Count: 2,
		Role:  team.RoleReviewer,
		Tasks: []TaskSpec{
			{Subject: "review parser"},
			{Subject: "review lexer", Description: "focus on unicode"},
			{Subject: "review docs"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	assert.Equal(t, "worker-3", res.Added[0].Name)
	assert.Equal(t, "worker-4", res.Added[1].Name)
	assert.Equal(t, 4, res.WorkerCount)
	assert.Equal(t, 5, res.NextWorkerIndex)
	require.Len(t, res.Bootstrap, 2)
	for _, out := range res.Bootstrap {
		assert.True(t, out.OK)
	}

	cfg := e.config(t)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.NextWorkerIndex)
	w3, ok := cfg.Worker("worker-3")
	require.True(t, ok)
	assert.Equal(t, team.RoleReviewer, w3.Role)
	assert.Equal(t, []string{"1", "3"}, w3.AssignedTasks)
	assert.NotEmpty(t, w3.PaneID)
	w4, _ := cfg.Worker("worker-4")
	assert.Equal(t, []string{"2"}, w4.AssignedTasks)

	task, err := e.tasks.ReadTask(ctx, "alpha", "2")
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, task.Status)
	assert.Equal(t, "worker-4", task.Annotations[assigneeAnnotation])

	inbox, err := e.teams.ReadInbox("alpha", "worker-3")
	require.NoError(t, err)
	assert.Contains(t, inbox, "You are worker-3 (role: reviewer)")
	assert.Contains(t, inbox, "Task 1: review parser")
	assert.Contains(t, inbox, "Task 3: review docs")
	assert.Len(t, e.spawner.sent[w3.PaneID], 1)
}

func TestScaleUp_IndicesNeverReused(t *testing.T) {
	e := newEnv(t, 2, 5)
	ctx := context.Background()

	_, err := e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 2})
	require.NoError(t, err)
	require.Equal(t, 5, e.config(t).NextWorkerIndex)

	_, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-4"}})
	require.NoError(t, err)

	res, err := e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 1})
	require.NoError(t, err)
	assert.Equal(t, "worker-5", res.Added[0].Name)
	assert.Equal(t, 6, e.config(t).NextWorkerIndex)
}

func TestScaleUp_Validation(t *testing.T) {
	e := newEnv(t, 2, 3)
	ctx := context.Background()

	_, err := e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 0})
	assert.Equal(t, "count", apperrors.FieldOf(err))

	_, err = e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 2})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 1, Tasks: []TaskSpec{{Subject: " "}}})
	assert.Equal(t, "tasks", apperrors.FieldOf(err))

	_, err = e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 1, Tasks: []TaskSpec{{Subject: "x", BlockedBy: []string{"42"}}}})
	assert.Equal(t, "blocked_by", apperrors.FieldOf(err))

	_, err = e.mgr.ScaleUp(ctx, "ghost", ScaleUpInput{Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	cfg := e.config(t)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 3, cfg.NextWorkerIndex)
	assert.Empty(t, e.spawner.spawnLog)
}

func TestScaleUp_NotReadyIsSoftFailure(t *testing.T) {
	e := newEnv(t, 1, 2)
	e.spawner.notReady = true

	res, err := e.mgr.ScaleUp(context.Background(), "alpha", ScaleUpInput{Count: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.WorkerCount)
}

func TestScaleUp_BootstrapFailureRollsBack(t *testing.T) {
	e := newEnv(t, 1, 4)
	e.spawner.sendErr = errors.New("pane vanished")
	ctx := context.Background()

	_, err := e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 2, Tasks: []TaskSpec{{Subject: "a"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTransport)

	cfg := e.config(t)
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 4, cfg.NextWorkerIndex, "reserved indices stay consumed")
	assert.ElementsMatch(t, []string{"%101", "%102"}, e.spawner.terminatedPanes())

	task, err := e.tasks.ReadTask(ctx, "alpha", "1")
	require.NoError(t, err)
	assert.Empty(t, task.Annotations[assigneeAnnotation])

	held, err := e.mgr.teamLock("alpha").Held()
	require.NoError(t, err)
	assert.False(t, held)
}

func TestScaleUp_SpawnFailure(t *testing.T) {
	e := newEnv(t, 1, 4)
	e.spawner.spawnErr = errors.New("tmux not running")

	_, err := e.mgr.ScaleUp(context.Background(), "alpha", ScaleUpInput{Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrTransport)
	assert.Equal(t, 1, e.config(t).WorkerCount)
}

func TestScaleUp_LockSerializesConcurrentCalls(t *testing.T) {
	e := newEnv(t, 2, 6)
	e.spawner.spawnDelay = 50 * time.Millisecond
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.mgr.ScaleUp(ctx, "alpha", ScaleUpInput{Count: 1})
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	log := e.spawner.spawnLog
	require.Len(t, log, 4)
	// Each spawn finishes before the next starts.
	assert.Regexp(t, `^start worker-\d$`, log[0])
	assert.Equal(t, "end"+log[0][len("start"):], log[1])
	assert.Equal(t, "end"+log[2][len("start"):], log[3])
	// The second call observed the roster the first call persisted.
	assert.Equal(t, []int{2, 3}, e.spawner.rosterSeen)

	cfg := e.config(t)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 5, cfg.NextWorkerIndex)
	held, err := e.mgr.teamLock("alpha").Held()
	require.NoError(t, err)
	assert.False(t, held)
}

func TestScaleDown_ByName(t *testing.T) {
	e := newEnv(t, 3, 3)
	ctx := context.Background()

	claimed, err := e.tasks.CreateTask(ctx, "alpha", taskqueue.CreateInput{Subject: "in flight"})
	require.NoError(t, err)
	_, err = e.tasks.ClaimTask(ctx, "alpha", claimed.ID, "worker-2", nil)
	require.NoError(t, err)

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-2"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-2"}, res.Removed)
	assert.Equal(t, []string{claimed.ID}, res.Released)
	assert.Equal(t, 2, res.WorkerCount)
	assert.Equal(t, []string{"%2"}, e.spawner.terminatedPanes())

	task, err := e.tasks.ReadTask(ctx, "alpha", claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, task.Status)
	assert.Empty(t, task.Owner)

	status, err := e.teams.ReadStatus("alpha", "worker-2")
	require.NoError(t, err)
	assert.Equal(t, team.StateUnknown, status.State)

	cfg := e.config(t)
	assert.Equal(t, []string{"worker-1", "worker-3"}, cfg.WorkerNames())
}

func TestScaleDown_TerminateFailureKeepsWorker(t *testing.T) {
	e := newEnv(t, 3, 3)
	ctx := context.Background()
	e.spawner.stuck = map[string]bool{"%3": true}

	claimed, err := e.tasks.CreateTask(ctx, "alpha", taskqueue.CreateInput{Subject: "in flight"})
	require.NoError(t, err)
	_, err = e.tasks.ClaimTask(ctx, "alpha", claimed.ID, "worker-3", nil)
	require.NoError(t, err)

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-2", "worker-3"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-2"}, res.Removed)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "worker-3", res.Failed[0].Worker)
	assert.Contains(t, res.Failed[0].Reason, "server not responding")
	assert.Empty(t, res.Released)
	assert.Equal(t, 2, res.WorkerCount)

	cfg := e.config(t)
	assert.Equal(t, []string{"worker-1", "worker-3"}, cfg.WorkerNames())

	task, err := e.tasks.ReadTask(ctx, "alpha", claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusInProgress, task.Status)
	assert.Equal(t, "worker-3", task.Owner)

	status, err := e.teams.ReadStatus("alpha", "worker-3")
	require.NoError(t, err)
	assert.Equal(t, team.StateDraining, status.State)
	assert.True(t, e.spawner.IsAlive(ctx, Handle{PaneID: "%3"}))

	// Once the pane can be stopped, a retry removes it.
	e.spawner.mu.Lock()
	e.spawner.stuck = nil
	e.spawner.mu.Unlock()
	res, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-3"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-3"}, res.Removed)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{claimed.ID}, res.Released)
}

func TestScaleDown_GlobPattern(t *testing.T) {
	e := newEnv(t, 4, 4)

	res, err := e.mgr.ScaleDown(context.Background(), "alpha", ScaleDownInput{WorkerNames: []string{"worker-[34]"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-3", "worker-4"}, res.Removed)
}

func TestScaleDown_NameValidation(t *testing.T) {
	e := newEnv(t, 2, 2)
	ctx := context.Background()

	_, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-9"}})
	assert.Equal(t, "worker_names", apperrors.FieldOf(err))

	_, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"reviewer-*"}})
	assert.Equal(t, "worker_names", apperrors.FieldOf(err))

	_, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{team.LeaderName}})
	assert.Equal(t, "worker_names", apperrors.FieldOf(err))

	_, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-1"}, Count: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{})
	assert.Equal(t, "count", apperrors.FieldOf(err))

	assert.Equal(t, 2, e.config(t).WorkerCount)
}

func TestScaleDown_KeepsAtLeastOneWorker(t *testing.T) {
	e := newEnv(t, 2, 2)
	ctx := context.Background()

	_, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-*"}, Force: true})
	assert.ErrorIs(t, err, apperrors.ErrBelowMinimumWorker)

	_, err = e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{Count: 2, Force: true})
	assert.ErrorIs(t, err, apperrors.ErrBelowMinimumWorker)

	cfg := e.config(t)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Empty(t, e.spawner.terminatedPanes())
	for _, name := range cfg.WorkerNames() {
		st, err := e.teams.ReadStatus("alpha", name)
		require.NoError(t, err)
		assert.NotEqual(t, team.StateDraining, st.State)
	}
}

func TestScaleDown_NeverKillsLeaderOrHUDPane(t *testing.T) {
	e := newEnv(t, 3, 3)
	ctx := context.Background()

	// Corrupt the roster so workers point at the reserved panes.
	_, err := e.teams.Update(ctx, "alpha", func(c *team.Config) error {
		c.Workers[1].PaneID = c.LeaderPaneID
		c.Workers[2].PaneID = c.HUDPaneID
		return nil
	})
	require.NoError(t, err)

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-2", "worker-3"}, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"worker-2", "worker-3"}, res.Removed)
	assert.Equal(t, []string{"worker-2", "worker-3"}, res.Guarded)
	assert.Empty(t, e.spawner.terminatedPanes())
	assert.Equal(t, 1, e.config(t).WorkerCount)
}

func TestScaleDown_IdlestFirst(t *testing.T) {
	e := newEnv(t, 4, 4)
	ctx := context.Background()

	require.NoError(t, e.teams.WriteStatus("alpha", "worker-1", team.WorkerStatus{State: team.StateIdle}))
	require.NoError(t, e.teams.WriteStatus("alpha", "worker-2", team.WorkerStatus{State: team.StateDone}))
	require.NoError(t, e.teams.WriteStatus("alpha", "worker-3", team.WorkerStatus{State: team.StateWorking, CurrentTaskID: "1"}))
	require.NoError(t, e.teams.WriteStatus("alpha", "worker-4", team.WorkerStatus{State: team.StateWorking, CurrentTaskID: "2"}))

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{Count: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker-1", "worker-2"}, res.Removed)
	assert.Empty(t, res.Undrained)
}

func TestScaleDown_NotEnoughIdle(t *testing.T) {
	e := newEnv(t, 3, 3)
	ctx := context.Background()
	for _, name := range []string{"worker-1", "worker-2"} {
		require.NoError(t, e.teams.WriteStatus("alpha", name, team.WorkerStatus{State: team.StateWorking, CurrentTaskID: "1"}))
	}

	_, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{Count: 2})
	assert.ErrorIs(t, err, apperrors.ErrNotEnoughIdle)

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{Count: 2, Force: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker-2", "worker-3"}, res.Removed)
}

func TestScaleDown_DrainTimeoutProceeds(t *testing.T) {
	e := newEnv(t, 2, 2)
	ctx := context.Background()

	task, err := e.tasks.CreateTask(ctx, "alpha", taskqueue.CreateInput{Subject: "long job"})
	require.NoError(t, err)
	_, err = e.tasks.ClaimTask(ctx, "alpha", task.ID, "worker-2", nil)
	require.NoError(t, err)

	start := time.Now()
	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-2"}, DrainTimeout: 60 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, []string{"worker-2"}, res.Undrained)
	assert.Equal(t, []string{task.ID}, res.Released)
}

func TestScaleDown_DrainsWhenWorkerFinishes(t *testing.T) {
	e := newEnv(t, 2, 2)
	ctx := context.Background()

	task, err := e.tasks.CreateTask(ctx, "alpha", taskqueue.CreateInput{Subject: "short job"})
	require.NoError(t, err)
	claim, err := e.tasks.ClaimTask(ctx, "alpha", task.ID, "worker-2", nil)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = e.tasks.TransitionTask(ctx, "alpha", task.ID, taskqueue.StatusInProgress, taskqueue.StatusCompleted, claim.Token, taskqueue.TransitionInput{Result: "done"})
	}()

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-2"}, DrainTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Empty(t, res.Undrained)
	assert.Empty(t, res.Released)

	done, err := e.tasks.ReadTask(ctx, "alpha", task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, done.Status)
}

func TestScaleDown_DeadProcessCountsAsDrained(t *testing.T) {
	e := newEnv(t, 2, 2)
	ctx := context.Background()
	require.NoError(t, e.teams.WriteStatus("alpha", "worker-2", team.WorkerStatus{State: team.StateWorking, CurrentTaskID: "7"}))
	e.spawner.alive["%2"] = false

	res, err := e.mgr.ScaleDown(ctx, "alpha", ScaleDownInput{WorkerNames: []string{"worker-2"}, DrainTimeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Empty(t, res.Undrained)
}

func TestBootstrapInbox(t *testing.T) {
	cfg := &team.Config{Name: "alpha"}
	w := &team.Worker{Name: "worker-3", Role: team.RoleExecutor}

	empty := bootstrapInbox(cfg, w, nil)
	assert.Contains(t, empty, "No tasks are assigned")
	assert.Contains(t, empty, "teamwork task claim --team alpha --worker worker-3")

	withTasks := bootstrapInbox(cfg, w, []*taskqueue.Task{
		{ID: "4", Subject: "port lexer", Description: "line one\nline two", BlockedBy: []string{"2"}},
	})
	assert.Contains(t, withTasks, "- Task 4: port lexer\n  line one\n  line two\n  Blocked by: 2\n")
}
