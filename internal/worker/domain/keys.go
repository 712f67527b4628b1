package domain

import (
	"path"

	"github.com/google/uuid"
)

// DefaultKeyPrefix is the blob key prefix used when none is configured
const DefaultKeyPrefix = "tensor-trigger"

// BlobKeys derives blob store paths for models and job data
type BlobKeys struct {
	Prefix string
}

func (k BlobKeys) prefix() string {
	if k.Prefix == "" {
		return DefaultKeyPrefix
	}
	return k.Prefix
}

// Model is the path of a model artifact. Training overwrites it.
func (k BlobKeys) Model(modelID uuid.UUID) string {
	return path.Join(k.prefix(), modelID.String())
}

// Input is the path of the CSV input uploaded for a run job
func (k BlobKeys) Input(jobID uuid.UUID) string {
	return path.Join(k.prefix(), "input-data", jobID.String())
}

// Output is the path of a run job's result document
func (k BlobKeys) Output(jobID uuid.UUID) string {
	return path.Join(k.prefix(), "output-data", jobID.String())
}

// TrainRequest carries the inputs of a training run
type TrainRequest struct {
	ModelID       uuid.UUID
	User          string
	Epochs        int
	InputVectors  []map[string]float64
	OutputVectors [][]float64
}
