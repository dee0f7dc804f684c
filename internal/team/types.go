package team

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Iron-Ham/teamwork/internal/errors"
)

// LeaderName is the pseudo-worker name addressing the leader.
const LeaderName = "leader"

// MaxNameLength bounds a normalized team name.
const MaxNameLength = 64

// Role describes what kind of work a worker performs. Roles are free-form;
// these are the ones the CLI suggests.
type Role string

const (
	RoleExecutor Role = "executor"
	RolePlanner  Role = "planner"
	RoleReviewer Role = "reviewer"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Config is the persisted team document.
type Config struct {
	Name            string    `json:"name"`
	TmuxSession     string    `json:"tmux_session,omitempty"`
	Workers         []Worker  `json:"workers"`
	WorkerCount     int       `json:"worker_count"`
	MaxWorkers      int       `json:"max_workers"`
	NextWorkerIndex int       `json:"next_worker_index"`
	LeaderPaneID    string    `json:"leader_pane_id,omitempty"`
	HUDPaneID       string    `json:"hud_pane_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Worker is one roster entry.
type Worker struct {
	Name          string   `json:"name"`
	Index         int      `json:"index"`
	Role          Role     `json:"role,omitempty"`
	AssignedTasks []string `json:"assigned_tasks,omitempty"`
	PID           int      `json:"pid,omitempty"`
	PaneID        string   `json:"pane_id,omitempty"`
	WorkingDir    string   `json:"working_dir,omitempty"`
}

// Worker returns the roster entry named name.
func (c *Config) Worker(name string) (*Worker, bool) {
	for i := range c.Workers {
		if c.Workers[i].Name == name {
			return &c.Workers[i], true
		}
	}
	return nil, false
}

// HasMember reports whether name can receive messages: a roster worker or
// the leader.
func (c *Config) HasMember(name string) bool {
	if name == LeaderName {
		return true
	}
	_, ok := c.Worker(name)
	return ok
}

// WorkerNames returns roster names in roster order.
func (c *Config) WorkerNames() []string {
	names := make([]string, len(c.Workers))
	for i, w := range c.Workers {
		names[i] = w.Name
	}
	return names
}

// IsReservedPane reports whether paneID is the leader or HUD pane. Reserved
// panes are never terminated, even if listed on a worker.
func (c *Config) IsReservedPane(paneID string) bool {
	if paneID == "" {
		return false
	}
	return paneID == c.LeaderPaneID || paneID == c.HUDPaneID
}

// ReserveIndices advances NextWorkerIndex by n and returns the reserved
// indices. Indices are never handed out twice.
func (c *Config) ReserveIndices(n int) []int {
	if c.NextWorkerIndex < 1 {
		c.NextWorkerIndex = 1
	}
	out := make([]int, n)
	for i := range out {
		out[i] = c.NextWorkerIndex
		c.NextWorkerIndex++
	}
	return out
}

// AddWorkers appends workers and recomputes WorkerCount.
func (c *Config) AddWorkers(ws ...Worker) {
	c.Workers = append(c.Workers, ws...)
	c.WorkerCount = len(c.Workers)
}

// RemoveWorkers drops the named workers and recomputes WorkerCount.
func (c *Config) RemoveWorkers(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := c.Workers[:0]
	for _, w := range c.Workers {
		if !drop[w.Name] {
			kept = append(kept, w)
		}
	}
	c.Workers = kept
	c.WorkerCount = len(c.Workers)
}

// WorkerName returns the canonical worker name for index.
func WorkerName(index int) string {
	return "worker-" + strconv.Itoa(index)
}

// State is a worker's reported activity.
type State string

const (
	StateIdle     State = "idle"
	StateWorking  State = "working"
	StateDraining State = "draining"
	StateDone     State = "done"
	StateUnknown  State = "unknown"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsValid reports whether s is a recognized state.
func (s State) IsValid() bool {
	switch s {
	case StateIdle, StateWorking, StateDraining, StateDone, StateUnknown:
		return true
	default:
		return false
	}
}

// IsIdle reports whether a worker in this state may be picked for removal
// without force.
func (s State) IsIdle() bool {
	return s == StateIdle || s == StateDone || s == StateUnknown
}

// WorkerStatus is the per-worker status document.
type WorkerStatus struct {
	State         State     `json:"state"`
	CurrentTaskID string    `json:"current_task_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes a team name: lowercase, runs of characters outside
// [a-z0-9] collapse to "-", leading/trailing "-" trimmed, at most
// MaxNameLength characters.
func Slug(name string) (string, error) {
	s := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxNameLength {
		s = strings.TrimRight(s[:MaxNameLength], "-")
	}
	if s == "" {
		return "", apperrors.NewValidationError("team name is empty after normalization").
			WithField("name").WithValue(name)
	}
	return s, nil
}

// ResolveName maps a team name as typed by a caller to the slug it is
// stored under. Names holding a path separator or ".." are rejected rather
// than slugged so that they never reach the filesystem.
func ResolveName(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", apperrors.NewValidationError(fmt.Sprintf("invalid team name %q", name)).
			WithField("team").WithValue(name)
	}
	return Slug(name)
}

// ValidateWorkerName rejects names that would escape a team directory.
func ValidateWorkerName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return apperrors.NewValidationError(fmt.Sprintf("invalid worker name %q", name)).WithField("worker")
	}
	return nil
}
