package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose id is already taken
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidTransition is returned when a job state change is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrStateNotRecorded marks failures to persist a job state; the message must be redelivered
	ErrStateNotRecorded = errors.New("job state not recorded")

	// ErrEmptyResult is returned when a model collaborator produced nothing
	ErrEmptyResult = errors.New("model returned empty result")

	// ErrHandlerPanic wraps a recovered panic raised inside an event handler
	ErrHandlerPanic = errors.New("event handler panicked")

	// ErrUnknownEventType is returned when no handler is registered for an event type
	ErrUnknownEventType = errors.New("unknown event type")
)

// DecodeError means the message body is not well-formed JSON
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode job event: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ValidationError means the body parsed but does not describe a valid job event.
// JobID is only set when job_id was extracted before validation failed.
type ValidationError struct {
	JobID  uuid.NullUUID
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid job event: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure raised while executing a decoded job
type HandlerError struct {
	JobID     uuid.UUID
	EventType EventType
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler failed for job %s: %s", e.EventType, e.JobID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// TransitionError reports a rejected state change
type TransitionError struct {
	JobID uuid.UUID
	From  JobState
	To    JobState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// JobIDFromError returns the job id carried by a decode or validation error, if any
func JobIDFromError(err error) (uuid.UUID, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) && verr.JobID.Valid {
		return verr.JobID.UUID, true
	}
	return uuid.Nil, false
}
