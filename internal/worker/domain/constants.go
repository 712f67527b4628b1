package domain

import "fmt"

// JobState is the persisted lifecycle state of an async job.
// The integer values are stored as-is in the job_state column.
type JobState int

// Job states
const (
	JobStateQueued    JobState = 0
	JobStateRunning   JobState = 1
	JobStateSucceeded JobState = 2
	JobStateFailed    JobState = 3
)

// String returns the upper-case name of the state
func (s JobState) String() string {
	switch s {
	case JobStateQueued:
		return "QUEUED"
	case JobStateRunning:
		return "RUNNING"
	case JobStateSucceeded:
		return "SUCCEEDED"
	case JobStateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition is allowed out of the state
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// Predecessors returns the states a job may be in when moving to s.
//
//	QUEUED  -> RUNNING | FAILED
//	RUNNING -> RUNNING | SUCCEEDED | FAILED
//
// RUNNING -> RUNNING covers redelivery of a message whose processing
// was interrupted before a terminal state was recorded.
func (s JobState) Predecessors() []JobState {
	switch s {
	case JobStateRunning:
		return []JobState{JobStateQueued, JobStateRunning}
	case JobStateSucceeded:
		return []JobState{JobStateRunning}
	case JobStateFailed:
		return []JobState{JobStateQueued, JobStateRunning}
	default:
		return nil
	}
}

// CanTransition reports whether a job in state from may move to state to
func CanTransition(from, to JobState) bool {
	for _, p := range to.Predecessors() {
		if p == from {
			return true
		}
	}
	return false
}

// EventType discriminates the job event variants carried on the exchange
type EventType string

// Event types
const (
	EventTypeModelRun   EventType = "model_run"
	EventTypeModelTrain EventType = "model_train"
)

// DefaultEpochs is applied when a model_train event omits epochs
const DefaultEpochs = 100

// IsValid reports whether t is a recognised event type
func (t EventType) IsValid() bool {
	return t == EventTypeModelRun || t == EventTypeModelTrain
}
