package events

import (
	"time"
)

// Event is implemented by everything published on the bus.
type Event interface {
	Topic() string
	EventType() string
	// RunID identifies the submission run the event belongs to; empty for
	// batch-wide events.
	RunID() string
}

// Topics
const (
	TopicTask       = "task"
	TopicSubmission = "submission"
	TopicBatch      = "batch"
)

// Event types
const (
	EventTypeTaskFinished       = "task.finished"
	EventTypeSubmissionStarted  = "submission.started"
	EventTypeSubmissionFinished = "submission.finished"
	EventTypeBatchProgress      = "batch.progress"
)

// TaskFinishedEvent is published after each task result is recorded.
type TaskFinishedEvent struct {
	Run       string
	Problem   string
	Task      string
	Stage     string
	Kind      string
	Complete  bool
	Passing   bool
	Summary   string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFinishedEvent) Topic() string     { return TopicTask }
func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) RunID() string     { return e.Run }

// SubmissionStartedEvent is published when grading of a target begins.
type SubmissionStartedEvent struct {
	Run       string
	Target    string
	Problems  int
	Timestamp time.Time
}

func (e SubmissionStartedEvent) Topic() string     { return TopicSubmission }
func (e SubmissionStartedEvent) EventType() string { return EventTypeSubmissionStarted }
func (e SubmissionStartedEvent) RunID() string     { return e.Run }

// SubmissionFinishedEvent is published when a target has been graded or
// its run aborted with Err.
type SubmissionFinishedEvent struct {
	Run          string
	Target       string
	TasksTotal   int
	TasksPassing int
	Err          error
	Duration     time.Duration
	Timestamp    time.Time
}

func (e SubmissionFinishedEvent) Topic() string     { return TopicSubmission }
func (e SubmissionFinishedEvent) EventType() string { return EventTypeSubmissionFinished }
func (e SubmissionFinishedEvent) RunID() string     { return e.Run }

// BatchProgressEvent is published whenever a batch run changes state.
type BatchProgressEvent struct {
	Total     int
	Running   int
	Finished  int
	Failed    int
	Timestamp time.Time
}

func (e BatchProgressEvent) Topic() string     { return TopicBatch }
func (e BatchProgressEvent) EventType() string { return EventTypeBatchProgress }
func (e BatchProgressEvent) RunID() string     { return "" }
