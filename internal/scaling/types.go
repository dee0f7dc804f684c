package scaling

import (
	"context"
	"time"

	"github.com/Iron-Ham/teamwork/internal/dispatch"
	"github.com/Iron-Ham/teamwork/internal/team"
)

// Action represents a scaling decision action.
type Action string

const (
	// ActionScaleUp indicates more workers should be added.
	ActionScaleUp Action = "scale_up"

	// ActionScaleDown indicates workers should be removed.
	ActionScaleDown Action = "scale_down"

	// ActionNone indicates no scaling change is needed.
	ActionNone Action = "none"
)

// String returns the string representation of the action.
func (a Action) String() string {
	return string(a)
}

// Decision is the result of evaluating the scaling policy against the
// current queue state and worker count.
type Decision struct {
	// Action is the recommended scaling action.
	Action Action `json:"action"`

	// Delta is the number of workers to add (positive) or remove (negative).
	// Zero when Action is ActionNone.
	Delta int `json:"delta"`

	// Reason is a human-readable explanation of the decision.
	Reason string `json:"reason"`
}

// SpawnRequest asks the spawner for a new worker process and pane.
type SpawnRequest struct {
	Team string
	// Session is the team's tmux session, empty when not yet known.
	Session    string
	Worker     string
	Index      int
	LaunchArgs []string
	Cwd        string
	Env        map[string]string
}

// Handle identifies a spawned worker. Either field may be empty when the
// spawner cannot report it.
type Handle struct {
	PaneID string
	PID    int
}

// Spawner creates and controls worker processes. SendText must deliver text
// literally and submit it with a separate key press, so text is never
// interpreted as control sequences.
type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Handle, error)
	IsAlive(ctx context.Context, h Handle) bool
	SendText(ctx context.Context, paneID, text string) error
	Terminate(ctx context.Context, h Handle) error
	WaitReady(ctx context.Context, h Handle, timeout time.Duration) bool
}

// TaskSpec is a task created for new workers during scale-up.
type TaskSpec struct {
	Subject     string   `json:"subject" yaml:"subject"`
	Description string   `json:"description,omitempty" yaml:"description"`
	BlockedBy   []string `json:"blocked_by,omitempty" yaml:"blocked_by"`
}

// ScaleUpInput describes a scale-up. Tasks are assigned to the new workers
// round-robin.
type ScaleUpInput struct {
	Count      int
	Role       team.Role
	Tasks      []TaskSpec
	LaunchArgs []string
	Cwd        string
	Env        map[string]string
}

// ScaleUpResult reports a completed scale-up.
type ScaleUpResult struct {
	Team            string             `json:"team"`
	Added           []team.Worker      `json:"added"`
	Bootstrap       []dispatch.Outcome `json:"bootstrap"`
	WorkerCount     int                `json:"worker_count"`
	NextWorkerIndex int                `json:"next_worker_index"`
}

// ScaleDownInput selects workers to remove, either by name (glob patterns
// allowed) or as the Count idlest workers.
type ScaleDownInput struct {
	WorkerNames  []string
	Count        int
	Force        bool
	DrainTimeout time.Duration
}

// ScaleDownResult reports a completed scale-down.
type ScaleDownResult struct {
	Team    string   `json:"team"`
	Removed []string `json:"removed"`
	// Guarded lists removed workers whose pane was the leader or HUD pane
	// and was therefore left running.
	Guarded []string `json:"guarded,omitempty"`
	// Undrained lists workers that were still busy when the drain timeout
	// expired.
	Undrained []string `json:"undrained,omitempty"`
	// Released lists task ids returned to pending.
	Released []string `json:"released,omitempty"`
	// Failed lists targets whose process could not be terminated. They
	// stay on the roster in the draining state.
	Failed      []FailedWorker `json:"failed,omitempty"`
	WorkerCount int            `json:"worker_count"`
}

// FailedWorker is a scale-down target that was kept because terminating
// it failed.
type FailedWorker struct {
	Worker string `json:"worker"`
	Reason string `json:"reason"`
}
