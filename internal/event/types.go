package event

import "time"

// Event is the interface that all events implement.
type Event interface {
	// EventType returns "category.action", e.g. "task.claimed".
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{eventType: eventType, timestamp: time.Now()}
}

// Event type names.
const (
	TypeTeamInitialized     = "team.initialized"
	TypeTeamScaled          = "team.scaled"
	TypeWorkerAdded         = "worker.added"
	TypeWorkerRemoved       = "worker.removed"
	TypeWorkerStatusChanged = "worker.status_changed"
	TypeTaskCreated         = "task.created"
	TypeTaskClaimed         = "task.claimed"
	TypeTaskTransitioned    = "task.transitioned"
	TypeTaskUpdated         = "task.updated"
	TypeTaskReleased        = "task.released"
	TypeMessageSent         = "message.sent"
	TypeMessageMarked       = "message.marked"
	TypeDispatchEnqueued    = "dispatch.enqueued"
	TypeDispatchDeduped     = "dispatch.deduped"
	TypeDispatchCompleted   = "dispatch.completed"
)

// -----------------------------------------------------------------------------
// Team Events
// -----------------------------------------------------------------------------

// TeamInitializedEvent is emitted when a team is created.
type TeamInitializedEvent struct {
	baseEvent
	Team        string
	WorkerCount int
}

// NewTeamInitializedEvent creates a TeamInitializedEvent.
func NewTeamInitializedEvent(team string, workerCount int) TeamInitializedEvent {
	return TeamInitializedEvent{
		baseEvent:   newBaseEvent(TypeTeamInitialized),
		Team:        team,
		WorkerCount: workerCount,
	}
}

// ScaleDirection is the direction of a scaling operation.
type ScaleDirection string

const (
	ScaleUp   ScaleDirection = "up"
	ScaleDown ScaleDirection = "down"
)

// TeamScaledEvent is emitted after a scale-up or scale-down is persisted.
type TeamScaledEvent struct {
	baseEvent
	Team        string
	Direction   ScaleDirection
	Workers     []string // workers added or removed
	WorkerCount int      // roster size afterwards
}

// NewTeamScaledEvent creates a TeamScaledEvent.
func NewTeamScaledEvent(team string, dir ScaleDirection, workers []string, workerCount int) TeamScaledEvent {
	return TeamScaledEvent{
		baseEvent:   newBaseEvent(TypeTeamScaled),
		Team:        team,
		Direction:   dir,
		Workers:     workers,
		WorkerCount: workerCount,
	}
}

// WorkerAddedEvent is emitted for each worker added by scale-up.
type WorkerAddedEvent struct {
	baseEvent
	Team   string
	Worker string
	Index  int
	PaneID string
}

// NewWorkerAddedEvent creates a WorkerAddedEvent.
func NewWorkerAddedEvent(team, worker string, index int, paneID string) WorkerAddedEvent {
	return WorkerAddedEvent{
		baseEvent: newBaseEvent(TypeWorkerAdded),
		Team:      team,
		Worker:    worker,
		Index:     index,
		PaneID:    paneID,
	}
}

// WorkerRemovedEvent is emitted for each worker removed by scale-down.
type WorkerRemovedEvent struct {
	baseEvent
	Team       string
	Worker     string
	Terminated bool // false when the pane was protected or already gone
}

// NewWorkerRemovedEvent creates a WorkerRemovedEvent.
func NewWorkerRemovedEvent(team, worker string, terminated bool) WorkerRemovedEvent {
	return WorkerRemovedEvent{
		baseEvent:  newBaseEvent(TypeWorkerRemoved),
		Team:       team,
		Worker:     worker,
		Terminated: terminated,
	}
}

// WorkerStatusChangedEvent is emitted when a worker status file is written.
type WorkerStatusChangedEvent struct {
	baseEvent
	Team   string
	Worker string
	State  string
	Reason string
}

// NewWorkerStatusChangedEvent creates a WorkerStatusChangedEvent.
func NewWorkerStatusChangedEvent(team, worker, state, reason string) WorkerStatusChangedEvent {
	return WorkerStatusChangedEvent{
		baseEvent: newBaseEvent(TypeWorkerStatusChanged),
		Team:      team,
		Worker:    worker,
		State:     state,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Task Events
// -----------------------------------------------------------------------------

// TaskCreatedEvent is emitted when a task is created.
type TaskCreatedEvent struct {
	baseEvent
	Team    string
	TaskID  string
	Subject string
}

// NewTaskCreatedEvent creates a TaskCreatedEvent.
func NewTaskCreatedEvent(team, taskID, subject string) TaskCreatedEvent {
	return TaskCreatedEvent{
		baseEvent: newBaseEvent(TypeTaskCreated),
		Team:      team,
		TaskID:    taskID,
		Subject:   subject,
	}
}

// TaskClaimedEvent is emitted when a worker claims a task.
type TaskClaimedEvent struct {
	baseEvent
	Team     string
	TaskID   string
	Worker   string
	Version  int
	Takeover bool // claimed from another in-progress owner via expected version
}

// NewTaskClaimedEvent creates a TaskClaimedEvent.
func NewTaskClaimedEvent(team, taskID, worker string, version int, takeover bool) TaskClaimedEvent {
	return TaskClaimedEvent{
		baseEvent: newBaseEvent(TypeTaskClaimed),
		Team:      team,
		TaskID:    taskID,
		Worker:    worker,
		Version:   version,
		Takeover:  takeover,
	}
}

// TaskTransitionedEvent is emitted when a claimed task changes status.
type TaskTransitionedEvent struct {
	baseEvent
	Team   string
	TaskID string
	Worker string
	From   string
	To     string
}

// NewTaskTransitionedEvent creates a TaskTransitionedEvent.
func NewTaskTransitionedEvent(team, taskID, worker, from, to string) TaskTransitionedEvent {
	return TaskTransitionedEvent{
		baseEvent: newBaseEvent(TypeTaskTransitioned),
		Team:      team,
		TaskID:    taskID,
		Worker:    worker,
		From:      from,
		To:        to,
	}
}

// TaskUpdatedEvent is emitted when task metadata changes.
type TaskUpdatedEvent struct {
	baseEvent
	Team   string
	TaskID string
	Fields []string
}

// NewTaskUpdatedEvent creates a TaskUpdatedEvent.
func NewTaskUpdatedEvent(team, taskID string, fields []string) TaskUpdatedEvent {
	return TaskUpdatedEvent{
		baseEvent: newBaseEvent(TypeTaskUpdated),
		Team:      team,
		TaskID:    taskID,
		Fields:    fields,
	}
}

// TaskReleasedEvent is emitted when an in-progress task is returned to
// pending without its owner's token (lease expiry, worker removal).
type TaskReleasedEvent struct {
	baseEvent
	Team   string
	TaskID string
	Worker string
	Reason string
}

// NewTaskReleasedEvent creates a TaskReleasedEvent.
func NewTaskReleasedEvent(team, taskID, worker, reason string) TaskReleasedEvent {
	return TaskReleasedEvent{
		baseEvent: newBaseEvent(TypeTaskReleased),
		Team:      team,
		TaskID:    taskID,
		Worker:    worker,
		Reason:    reason,
	}
}

// -----------------------------------------------------------------------------
// Mailbox Events
// -----------------------------------------------------------------------------

// MessageSentEvent is emitted for every message appended to a mailbox.
type MessageSentEvent struct {
	baseEvent
	Team      string
	MessageID string
	From      string
	To        string
}

// NewMessageSentEvent creates a MessageSentEvent.
func NewMessageSentEvent(team, messageID, from, to string) MessageSentEvent {
	return MessageSentEvent{
		baseEvent: newBaseEvent(TypeMessageSent),
		Team:      team,
		MessageID: messageID,
		From:      from,
		To:        to,
	}
}

// MessageMarkedEvent is emitted the first time a message is marked
// notified or delivered.
type MessageMarkedEvent struct {
	baseEvent
	Team      string
	MessageID string
	Worker    string
	Mark      string // "notified" or "delivered"
}

// NewMessageMarkedEvent creates a MessageMarkedEvent.
func NewMessageMarkedEvent(team, messageID, worker, mark string) MessageMarkedEvent {
	return MessageMarkedEvent{
		baseEvent: newBaseEvent(TypeMessageMarked),
		Team:      team,
		MessageID: messageID,
		Worker:    worker,
		Mark:      mark,
	}
}

// -----------------------------------------------------------------------------
// Dispatch Events
// -----------------------------------------------------------------------------

// DispatchEnqueuedEvent is emitted when a dispatch request is persisted.
type DispatchEnqueuedEvent struct {
	baseEvent
	Team      string
	RequestID string
	Kind      string
	ToWorker  string
}

// NewDispatchEnqueuedEvent creates a DispatchEnqueuedEvent.
func NewDispatchEnqueuedEvent(team, requestID, kind, toWorker string) DispatchEnqueuedEvent {
	return DispatchEnqueuedEvent{
		baseEvent: newBaseEvent(TypeDispatchEnqueued),
		Team:      team,
		RequestID: requestID,
		Kind:      kind,
		ToWorker:  toWorker,
	}
}

// DispatchDedupedEvent is emitted when a dispatch matches a pending request.
type DispatchDedupedEvent struct {
	baseEvent
	Team      string
	RequestID string // the pending request that absorbed this one
	ToWorker  string
}

// NewDispatchDedupedEvent creates a DispatchDedupedEvent.
func NewDispatchDedupedEvent(team, requestID, toWorker string) DispatchDedupedEvent {
	return DispatchDedupedEvent{
		baseEvent: newBaseEvent(TypeDispatchDeduped),
		Team:      team,
		RequestID: requestID,
		ToWorker:  toWorker,
	}
}

// DispatchCompletedEvent is emitted when a dispatch outcome is recorded.
type DispatchCompletedEvent struct {
	baseEvent
	Team         string
	RequestID    string
	ToWorker     string
	Status       string
	Transport    string
	FallbackUsed bool
	Reason       string
}

// NewDispatchCompletedEvent creates a DispatchCompletedEvent.
func NewDispatchCompletedEvent(team, requestID, toWorker, status, transport string, fallbackUsed bool, reason string) DispatchCompletedEvent {
	return DispatchCompletedEvent{
		baseEvent:    newBaseEvent(TypeDispatchCompleted),
		Team:         team,
		RequestID:    requestID,
		ToWorker:     toWorker,
		Status:       status,
		Transport:    transport,
		FallbackUsed: fallbackUsed,
		Reason:       reason,
	}
}
