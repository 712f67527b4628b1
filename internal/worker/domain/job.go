package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is implemented by every job event variant.
// The unexported method seals the set to the types in this package.
type Event interface {
	Type() EventType
	Owner() string
	isEvent()
}

// ModelRunEvent asks the worker to run a stored model against the job's input data
type ModelRunEvent struct {
	ModelID uuid.UUID `json:"model_id"`
	User    string    `json:"user"`
}

func (ModelRunEvent) Type() EventType { return EventTypeModelRun }
func (e ModelRunEvent) Owner() string { return e.User }
func (ModelRunEvent) isEvent()        {}

// ModelTrainEvent asks the worker to train a stored model and replace its artifact
type ModelTrainEvent struct {
	ModelID       uuid.UUID            `json:"model_id"`
	User          string               `json:"user"`
	Epochs        int                  `json:"epochs"`
	InputVectors  []map[string]float64 `json:"input_vectors"`
	OutputVectors [][]float64          `json:"output_vectors"`
}

func (ModelTrainEvent) Type() EventType { return EventTypeModelTrain }
func (e ModelTrainEvent) Owner() string { return e.User }
func (ModelTrainEvent) isEvent()        {}

// JobEvent is a decoded and validated message from the job exchange
type JobEvent struct {
	JobID uuid.UUID
	Type  EventType
	Event Event
}

// Job is a row of the async_jobs table
type Job struct {
	JobID       uuid.UUID `db:"job_id" json:"job_id"`
	ModelID     uuid.UUID `db:"model_id" json:"model_id"`
	UploadSize  int64     `db:"upload_size" json:"upload_size"`
	Created     time.Time `db:"created" json:"created"`
	LastUpdated time.Time `db:"last_updated" json:"last_updated"`
	State       JobState  `db:"job_state" json:"job_state"`
}
