// Package internal contains integration tests that run the coordination
// packages together against a real state directory, the way a leader and
// its workers share one .teamwork root from separate processes.
package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/teamwork/internal/coordination"
	"github.com/Iron-Ham/teamwork/internal/dispatch"
	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
	"github.com/Iron-Ham/teamwork/internal/event"
	"github.com/Iron-Ham/teamwork/internal/state"
	"github.com/Iron-Ham/teamwork/internal/taskqueue"
	"github.com/Iron-Ham/teamwork/internal/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects event types in publish order.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, e.EventType())
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

// openHub opens a hook-only hub on root, as a separate process would.
func openHub(t *testing.T, root string, bus *event.Bus) *coordination.Hub {
	t.Helper()
	hub, err := coordination.NewHub(
		coordination.Config{
			Store: state.NewOS(root, state.WithCrossProcessLock(true)),
			Bus:   bus,
		},
		coordination.WithDispatchOptions(dispatch.WithReceiptWait(2*time.Second, 5*time.Millisecond)),
	)
	require.NoError(t, err)
	return hub
}

// TestSharedRootIntegration drives a leader hub and a worker hub over the
// same directory: task hand-off, a hook-delivered message, and completion.
func TestSharedRootIntegration(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), state.DirName)

	leaderEvents := &recorder{}
	leaderBus := event.NewBus()
	leaderBus.SubscribeAll(leaderEvents.handle)
	leader := openHub(t, root, leaderBus)
	worker := openHub(t, root, event.NewBus())

	initRes, err := leader.InitTeam(ctx, team.InitInput{Name: "alpha", Workers: 2, MaxWorkers: 2})
	require.NoError(t, err)
	require.True(t, initRes.OK)

	created, err := leader.CreateTask(ctx, "alpha", taskqueue.CreateInput{Subject: "write the parser"})
	require.NoError(t, err)
	require.True(t, created.OK)
	taskID := created.Data.ID

	// The worker process sees the leader's task and claims it.
	claim, err := worker.ClaimTask(ctx, "alpha", taskID, "worker-2", nil)
	require.NoError(t, err)
	require.True(t, claim.OK)

	read, err := leader.ReadTask(ctx, "alpha", taskID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusInProgress, read.Data.Status)
	assert.Equal(t, "worker-2", read.Data.Owner)

	// Worker-side hook answers the leader's notification.
	hookDone := make(chan error, 1)
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			res, err := worker.HookPickups(ctx, "alpha", "worker-2")
			if err != nil {
				hookDone <- err
				return
			}
			if len(res.Data) > 0 {
				_, err := worker.WriteReceipt(ctx, "alpha", res.Data[0].RequestID, dispatch.ReceiptDelivered, "")
				hookDone <- err
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		hookDone <- fmt.Errorf("no pickup arrived")
	}()

	sent, err := leader.SendMessage(ctx, "alpha", team.LeaderName, "worker-2", "parser spec is in docs/")
	require.NoError(t, err)
	require.NoError(t, <-hookDone)
	require.True(t, sent.OK)
	assert.True(t, sent.Data.Dispatch.OK)
	assert.Equal(t, dispatch.TransportHook, sent.Data.Dispatch.Transport)

	inbox, err := worker.MailboxList(ctx, "alpha", "worker-2", false)
	require.NoError(t, err)
	require.Len(t, inbox.Data, 1)
	assert.Equal(t, "parser spec is in docs/", inbox.Data[0].Body)

	done, err := worker.TransitionTaskStatus(ctx, "alpha", taskID,
		taskqueue.StatusInProgress, taskqueue.StatusCompleted, claim.Data.Token,
		taskqueue.TransitionInput{Result: "parser merged"})
	require.NoError(t, err)
	require.True(t, done.OK)

	status, err := leader.TeamStatus(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Data.Tasks.Completed)
	assert.Zero(t, status.Data.PendingDispatch)

	// Only the leader's own mutations reach the leader's bus.
	assert.Equal(t, []string{
		event.TypeTeamInitialized,
		event.TypeTaskCreated,
		event.TypeMessageSent,
		event.TypeDispatchEnqueued,
		event.TypeMessageMarked,
		event.TypeDispatchCompleted,
	}, leaderEvents.seen())
}

// TestConcurrentClaimsAcrossHubs races workers from two hubs for one task.
func TestConcurrentClaimsAcrossHubs(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), state.DirName)
	hubs := []*coordination.Hub{openHub(t, root, nil), openHub(t, root, nil)}

	initRes, err := hubs[0].InitTeam(ctx, team.InitInput{Name: "alpha", Workers: 6, MaxWorkers: 6})
	require.NoError(t, err)
	require.True(t, initRes.OK)
	created, err := hubs[0].CreateTask(ctx, "alpha", taskqueue.CreateInput{Subject: "contended"})
	require.NoError(t, err)
	require.True(t, created.OK)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   []string
		conflicts int
	)
	for i := 1; i <= 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("worker-%d", i)
			res, err := hubs[i%2].ClaimTask(ctx, "alpha", created.Data.ID, name, nil)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.OK {
				winners = append(winners, name)
			} else if res.Error.Code == apperrors.CodeClaimConflict {
				conflicts++
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, 5, conflicts)

	read, err := hubs[1].ReadTask(ctx, "alpha", created.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], read.Data.Owner)
	assert.Equal(t, 2, read.Data.Version)
}
