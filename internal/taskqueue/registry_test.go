package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTeam = "alpha"

type fixture struct {
	reg   *Registry
	st    *state.Store
	clock *fakeClock
	bus   *event.Bus
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := state.New(afero.NewMemMapFs(), "/proj/.teamwork")
	_, err := team.NewStore(st).Init(context.Background(), team.InitInput{Name: testTeam, Workers: 3})
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	bus := event.NewBus()
	opts = append([]Option{WithClock(clock.Now), WithBus(bus)}, opts...)
	return &fixture{reg: New(st, opts...), st: st, clock: clock, bus: bus}
}

func (f *fixture) create(t *testing.T, subject string, blockedBy ...string) *Task {
	t.Helper()
	task, err := f.reg.CreateTask(context.Background(), testTeam, CreateInput{Subject: subject, BlockedBy: blockedBy})
	require.NoError(t, err)
	return task
}

func intPtr(v int) *int { return &v }

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, "write parser")
	second := f.create(t, "write tests", first.ID)

	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", second.ID)
	assert.Equal(t, StatusPending, first.Status)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, []string{"1"}, second.BlockedBy)

	got, err := f.reg.ReadTask(ctx, testTeam, "2")
	require.NoError(t, err)
	assert.Equal(t, "write tests", got.Subject)
}

func TestCreateTask_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reg.CreateTask(ctx, testTeam, CreateInput{Subject: "  "})
	assert.Equal(t, "subject", apperrors.FieldOf(err))

	_, err = f.reg.CreateTask(ctx, testTeam, CreateInput{Subject: "x", BlockedBy: []string{"42"}})
	assert.Equal(t, "blocked_by", apperrors.FieldOf(err))

	_, err = f.reg.CreateTask(ctx, "ghost", CreateInput{Subject: "x"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateTask_ConcurrentIDsAreUnique(t *testing.T) {
	f := newFixture(t)

	const n = 25
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := f.reg.CreateTask(context.Background(), testTeam, CreateInput{Subject: "t"})
			if assert.NoError(t, err) {
				ids <- task.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestClaimTask_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "ship it")

	res, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", intPtr(1))
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	assert.Equal(t, StatusInProgress, res.Task.Status)
	assert.Equal(t, "worker-1", res.Task.Owner)
	assert.Equal(t, 2, res.Task.Version)

	_, err = f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-2", nil)
	assert.Equal(t, apperrors.CodeClaimConflict, apperrors.CodeOf(err))

	done, err := f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, StatusCompleted, res.Token, TransitionInput{Result: "merged"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Nil(t, done.Claim)
	assert.Equal(t, "merged", done.Result)

	for _, w := range []string{"worker-1", "worker-2", "worker-3"} {
		_, err = f.reg.ClaimTask(ctx, testTeam, task.ID, w, nil)
		assert.Equal(t, apperrors.CodeAlreadyTerminal, apperrors.CodeOf(err))
		_, err = f.reg.ClaimTask(ctx, testTeam, task.ID, w, intPtr(done.Version))
		assert.Equal(t, apperrors.CodeAlreadyTerminal, apperrors.CodeOf(err))
	}
}

func TestClaimTask_InProgressWithoutVersionAlwaysConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "x")

	res, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)
	require.NoError(t, err)

	for _, w := range []string{"worker-1", "worker-2"} {
		_, err := f.reg.ClaimTask(ctx, testTeam, task.ID, w, nil)
		assert.ErrorIs(t, err, apperrors.ErrClaimConflict, "claimant %s", w)
	}

	after, err := f.reg.ReadTask(ctx, testTeam, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", after.Owner)
	assert.Equal(t, StatusInProgress, after.Status)
	assert.Equal(t, res.Task.Version, after.Version)
	assert.Equal(t, res.Token, after.Claim.Token)
}

func TestClaimTask_VersionedTakeover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "x")

	first, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)
	require.NoError(t, err)

	_, err = f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-2", intPtr(1))
	assert.ErrorIs(t, err, apperrors.ErrClaimConflict, "stale version")

	second, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-2", intPtr(first.Task.Version))
	require.NoError(t, err)
	assert.Equal(t, "worker-2", second.Task.Owner)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, StatusCompleted, first.Token, TransitionInput{})
	assert.ErrorIs(t, err, apperrors.ErrClaimConflict, "old token is void after takeover")
}

func TestClaimTask_ConcurrentClaimsOneWinner(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, "race")

	const n = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.reg.ClaimTask(context.Background(), testTeam, task.ID, team.WorkerName(i+1), nil)
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperrors.ErrClaimConflict)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestClaimTask_BlockedDependency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dep := f.create(t, "first")
	blocked := f.create(t, "second", dep.ID)

	_, err := f.reg.ClaimTask(ctx, testTeam, blocked.ID, "worker-1", nil)
	assert.ErrorIs(t, err, apperrors.ErrBlockedDependency)

	res, err := f.reg.ClaimTask(ctx, testTeam, dep.ID, "worker-1", nil)
	require.NoError(t, err)
	_, err = f.reg.TransitionTask(ctx, testTeam, dep.ID, StatusInProgress, StatusCompleted, res.Token, TransitionInput{})
	require.NoError(t, err)

	_, err = f.reg.ClaimTask(ctx, testTeam, blocked.ID, "worker-2", nil)
	assert.NoError(t, err)
}

func TestClaimTask_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "x")

	_, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "", nil)
	assert.Equal(t, "worker", apperrors.FieldOf(err))
	_, err = f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", intPtr(0))
	assert.Equal(t, "expected_version", apperrors.FieldOf(err))
	_, err = f.reg.ClaimTask(ctx, testTeam, "../x", "worker-1", nil)
	assert.Equal(t, "task_id", apperrors.FieldOf(err))
	_, err = f.reg.ClaimTask(ctx, testTeam, "99", "worker-1", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTransitionTask_TerminalIsOneWay(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			task := f.create(t, "x")
			res, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)
			require.NoError(t, err)
			final, err := f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, terminal, res.Token, TransitionInput{Error: "boom"})
			require.NoError(t, err)

			for _, to := range []Status{StatusPending, StatusInProgress, StatusCompleted, StatusFailed} {
				_, err := f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, to, res.Token, TransitionInput{})
				assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
				_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, terminal, to, res.Token, TransitionInput{})
				assert.ErrorIs(t, err, apperrors.ErrAlreadyTerminal)
			}

			after, err := f.reg.ReadTask(ctx, testTeam, task.ID)
			require.NoError(t, err)
			assert.Equal(t, final, after)
		})
	}
}

func TestTransitionTask_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "x")
	res, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)
	require.NoError(t, err)

	_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, StatusCompleted, "wrong", TransitionInput{})
	assert.ErrorIs(t, err, apperrors.ErrClaimConflict)

	_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, StatusPending, StatusCompleted, res.Token, TransitionInput{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, StatusInProgress, res.Token, TransitionInput{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, "done", StatusCompleted, res.Token, TransitionInput{})
	assert.Equal(t, "from", apperrors.FieldOf(err))

	back, err := f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, StatusPending, res.Token, TransitionInput{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, back.Status)
	assert.Empty(t, back.Owner)
	assert.Nil(t, back.CompletedAt)
}

func TestUpdateTask_RejectsLifecycleFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "x")

	for _, field := range []string{"status", "owner", "result", "error"} {
		_, err := f.reg.UpdateTask(ctx, testTeam, task.ID, map[string]any{"subject": "ok", field: "completed"})
		require.Error(t, err, field)
		assert.Equal(t, field, apperrors.FieldOf(err))
		assert.Contains(t, err.Error(), field)
	}

	_, err := f.reg.UpdateTask(ctx, testTeam, task.ID, map[string]any{"version": 9})
	assert.Equal(t, "version", apperrors.FieldOf(err))

	after, err := f.reg.ReadTask(ctx, testTeam, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Version)
	assert.Equal(t, "x", after.Subject)
}

func TestUpdateTask_Metadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.create(t, "x")
	res, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)
	require.NoError(t, err)

	updated, err := f.reg.UpdateTask(ctx, testTeam, task.ID, map[string]any{
		"subject":     "renamed",
		"description": "more detail",
		"annotations": map[string]any{"area": "parser"},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Subject)
	assert.Equal(t, "more detail", updated.Description)
	assert.Equal(t, map[string]string{"area": "parser"}, updated.Annotations)
	assert.Equal(t, StatusInProgress, updated.Status)
	assert.Equal(t, res.Task.Version+1, updated.Version)
	assert.Equal(t, res.Token, updated.Claim.Token, "metadata edits keep the claim")
}

func TestUpdateTask_BlockedByCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	b := f.create(t, "b", a.ID)
	c := f.create(t, "c", b.ID)

	_, err := f.reg.UpdateTask(ctx, testTeam, a.ID, map[string]any{"blocked_by": []any{c.ID}})
	require.Error(t, err)
	assert.Equal(t, "blocked_by", apperrors.FieldOf(err))
	assert.Contains(t, err.Error(), "cycle")

	_, err = f.reg.UpdateTask(ctx, testTeam, a.ID, map[string]any{"blocked_by": []string{a.ID}})
	assert.Equal(t, "blocked_by", apperrors.FieldOf(err))
}

func TestListTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 11; i++ {
		f.create(t, "t")
	}
	_, err := f.reg.ClaimTask(ctx, testTeam, "10", "worker-2", nil)
	require.NoError(t, err)

	all, err := f.reg.ListTasks(ctx, testTeam, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 11)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, "2", all[1].ID)
	assert.Equal(t, "11", all[10].ID)

	mine, err := f.reg.ListTasks(ctx, testTeam, Filter{Owner: "worker-2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "10", mine[0].ID)

	pending, err := f.reg.ListTasks(ctx, testTeam, Filter{Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 10)
}

func TestListTasks_FromNestedDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/proj/.teamwork", 0o755))
	require.NoError(t, fsys.MkdirAll("/proj/services/api", 0o755))

	root, err := state.FindRoot(fsys, "/proj/services/api")
	require.NoError(t, err)
	st := state.New(fsys, root)
	_, err = team.NewStore(st).Init(context.Background(), team.InitInput{Name: testTeam, Workers: 1})
	require.NoError(t, err)

	reg := New(st)
	_, err = reg.CreateTask(context.Background(), testTeam, CreateInput{Subject: "nested"})
	require.NoError(t, err)

	tasks, err := New(state.New(fsys, "/proj/.teamwork")).ListTasks(context.Background(), testTeam, Filter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "nested", tasks[0].Subject)
}

func TestReleaseExpiredClaims(t *testing.T) {
	f := newFixture(t, WithClaimLease(time.Minute))
	ctx := context.Background()
	stale := f.create(t, "stale")
	fresh := f.create(t, "fresh")

	_, err := f.reg.ClaimTask(ctx, testTeam, stale.ID, "worker-1", nil)
	require.NoError(t, err)
	f.clock.Advance(45 * time.Second)
	_, err = f.reg.ClaimTask(ctx, testTeam, fresh.ID, "worker-2", nil)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)

	var released []event.TaskReleasedEvent
	f.bus.Subscribe(event.TypeTaskReleased, func(e event.Event) {
		released = append(released, e.(event.TaskReleasedEvent))
	})

	ids, err := f.reg.ReleaseExpiredClaims(ctx, testTeam, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, ids)
	require.Len(t, released, 1)
	assert.Equal(t, "worker-1", released[0].Worker)

	got, err := f.reg.ReadTask(ctx, testTeam, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.Owner)
	assert.Nil(t, got.Claim)
}

func TestReleaseOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, "t")
	}
	_, err := f.reg.ClaimTask(ctx, testTeam, "1", "worker-3", nil)
	require.NoError(t, err)
	_, err = f.reg.ClaimTask(ctx, testTeam, "2", "worker-3", nil)
	require.NoError(t, err)
	_, err = f.reg.ClaimTask(ctx, testTeam, "3", "worker-1", nil)
	require.NoError(t, err)

	ids, err := f.reg.ReleaseOwner(ctx, testTeam, "worker-3", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)

	sum, err := f.reg.Summary(ctx, testTeam)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, Pending: 2, Ready: 2, InProgress: 1}, sum)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.create(t, "a")
	f.create(t, "b", a.ID)
	c := f.create(t, "c")

	res, err := f.reg.ClaimTask(ctx, testTeam, c.ID, "worker-1", nil)
	require.NoError(t, err)
	_, err = f.reg.TransitionTask(ctx, testTeam, c.ID, StatusInProgress, StatusFailed, res.Token, TransitionInput{Error: "x"})
	require.NoError(t, err)

	sum, err := f.reg.Summary(ctx, testTeam)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, Pending: 2, Ready: 1, Failed: 1}, sum)
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var types []string
	f.bus.SubscribeAll(func(e event.Event) { types = append(types, e.EventType()) })

	task := f.create(t, "x")
	res, err := f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)
	require.NoError(t, err)
	_, err = f.reg.UpdateTask(ctx, testTeam, task.ID, map[string]any{"description": "d"})
	require.NoError(t, err)
	_, err = f.reg.TransitionTask(ctx, testTeam, task.ID, StatusInProgress, StatusCompleted, res.Token, TransitionInput{})
	require.NoError(t, err)

	// Failed operations publish nothing.
	_, _ = f.reg.ClaimTask(ctx, testTeam, task.ID, "worker-1", nil)

	assert.Equal(t, []string{
		event.TypeTaskCreated,
		event.TypeTaskClaimed,
		event.TypeTaskUpdated,
		event.TypeTaskTransitioned,
	}, types)
}
