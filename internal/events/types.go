package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicQueue    = "queue"
	TopicScene    = "scene"
	TopicGovernor = "governor"
)

// Event type constants
const (
	EventTypeTaskQueued    = "task.queued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskAttempt   = "task.attempt"
	EventTypeTaskFinished  = "task.finished"
	EventTypeTaskRequeued  = "task.requeued"
	EventTypeQueueProgress = "queue.progress"
	EventTypeSceneChanged  = "scene.changed"
	EventTypeBackpressure  = "governor.backpressure"
)

// TaskQueuedEvent is published when a task is submitted.
type TaskQueuedEvent struct {
	ID        string
	Name      string
	Type      string
	Priority  string
	Timestamp time.Time
}

func (e TaskQueuedEvent) Topic() string     { return TopicTask }
func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a worker picks up a task.
type TaskStartedEvent struct {
	ID        string
	Name      string
	WorkerID  int
	Timestamp time.Time
}

func (e TaskStartedEvent) Topic() string     { return TopicTask }
func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskAttemptEvent is published after each failed attempt.
type TaskAttemptEvent struct {
	ID        string
	Attempt   int
	Kind      string
	Err       string
	Recovered bool
	Timestamp time.Time
}

func (e TaskAttemptEvent) Topic() string     { return TopicTask }
func (e TaskAttemptEvent) EventType() string { return EventTypeTaskAttempt }
func (e TaskAttemptEvent) TaskID() string    { return e.ID }

// TaskRequeuedEvent is published when a task is put back because a dependency is pending.
type TaskRequeuedEvent struct {
	ID        string
	WaitingOn []string
	Timestamp time.Time
}

func (e TaskRequeuedEvent) Topic() string     { return TopicTask }
func (e TaskRequeuedEvent) EventType() string { return EventTypeTaskRequeued }
func (e TaskRequeuedEvent) TaskID() string    { return e.ID }

// TaskFinishedEvent is published when a task reaches a terminal state.
type TaskFinishedEvent struct {
	ID        string
	State     string
	Attempts  int
	Err       string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFinishedEvent) Topic() string     { return TopicTask }
func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) TaskID() string    { return e.ID }

// QueueProgressEvent summarises pool state once per dispatch tick when it changed.
type QueueProgressEvent struct {
	Total     int
	Queued    int
	Running   int
	Paused    int
	Completed int
	Failed    int
	ByLevel   [5]int
	Timestamp time.Time
}

func (e QueueProgressEvent) Topic() string     { return TopicQueue }
func (e QueueProgressEvent) EventType() string { return EventTypeQueueProgress }
func (e QueueProgressEvent) TaskID() string    { return "" }

// SceneChangedEvent is published when the observer confirms a transition.
type SceneChangedEvent struct {
	From       string
	To         string
	Confidence float64
	Timestamp  time.Time
}

func (e SceneChangedEvent) Topic() string     { return TopicScene }
func (e SceneChangedEvent) EventType() string { return EventTypeSceneChanged }
func (e SceneChangedEvent) TaskID() string    { return "" }

// BackpressureEvent is published when the governor withholds dispatch.
type BackpressureEvent struct {
	Reason        string
	CPUPercent    float64
	MemoryPercent float64
	Active        int
	Level         int
	Timestamp     time.Time
}

func (e BackpressureEvent) Topic() string     { return TopicGovernor }
func (e BackpressureEvent) EventType() string { return EventTypeBackpressure }
func (e BackpressureEvent) TaskID() string    { return "" }
