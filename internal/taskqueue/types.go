package taskqueue

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	// StatusPending indicates the task is waiting to be claimed.
	StatusPending Status = "pending"

	// StatusInProgress indicates a worker holds a claim on the task.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates the task finished successfully. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the task failed. Terminal.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsValid reports whether s is a recognized status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// allowedTransitions lists the moves TransitionTask accepts.
var allowedTransitions = map[Status][]Status{
	StatusInProgress: {StatusCompleted, StatusFailed, StatusPending},
}

func transitionAllowed(from, to Status) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Claim is present on a task only while it is in progress.
type Claim struct {
	Token       string    `json:"token"`
	Worker      string    `json:"worker"`
	ClaimedAt   time.Time `json:"claimed_at"`
	LeasedUntil time.Time `json:"leased_until"`
}

// Task is the persisted task document.
type Task struct {
	ID          string            `json:"id"`
	Subject     string            `json:"subject"`
	Description string            `json:"description,omitempty"`
	Status      Status            `json:"status"`
	Owner       string            `json:"owner,omitempty"`
	Version     int               `json:"version"`
	Claim       *Claim            `json:"claim,omitempty"`
	BlockedBy   []string          `json:"blocked_by,omitempty"`
	Result      string            `json:"result,omitempty"`
	Error       string            `json:"error,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// CreateInput describes a new task.
type CreateInput struct {
	Subject     string
	Description string
	BlockedBy   []string
	Annotations map[string]string
}

// ClaimResult is returned by a successful claim.
type ClaimResult struct {
	Task  *Task  `json:"task"`
	Token string `json:"claim_token"`
}

// TransitionInput carries the outcome recorded with a transition.
type TransitionInput struct {
	Result string
	Error  string
}

// Filter narrows ListTasks. Zero fields match everything.
type Filter struct {
	Status Status
	Owner  string
}

func (f Filter) match(t *Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Owner != "" && t.Owner != f.Owner {
		return false
	}
	return true
}

// Summary counts tasks per status. Ready counts pending tasks whose
// dependencies are all completed.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Ready      int `json:"ready"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// counter is the per-team id allocator document.
type counter struct {
	Next int `json:"next"`
}
