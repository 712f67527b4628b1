package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/google/uuid"
)

type modelRunHandler struct {
	inference Inference
	blobs     BlobStore
	keys      domain.BlobKeys
}

// Handle runs the model and uploads {"output": result} before the job may succeed
func (h *modelRunHandler) Handle(ctx context.Context, jobID uuid.UUID, event domain.Event) error {
	ev, ok := event.(domain.ModelRunEvent)
	if !ok {
		return fmt.Errorf("model_run handler received %T", event)
	}

	result, err := h.inference.Run(ctx, ev.ModelID, jobID, ev.User)
	if err != nil {
		return fmt.Errorf("failed to run model %s: %w", ev.ModelID, err)
	}
	if isEmptyResult(result) {
		return domain.ErrEmptyResult
	}

	data, err := json.Marshal(map[string]any{"output": result})
	if err != nil {
		return fmt.Errorf("failed to serialize model output: %w", err)
	}

	if err := h.blobs.Upload(ctx, data, h.keys.Output(jobID)); err != nil {
		return fmt.Errorf("failed to upload model output: %w", err)
	}
	return nil
}

type modelTrainHandler struct {
	training Training
	blobs    BlobStore
	keys     domain.BlobKeys
}

// Handle trains the model and overwrites the stored artifact
func (h *modelTrainHandler) Handle(ctx context.Context, jobID uuid.UUID, event domain.Event) error {
	ev, ok := event.(domain.ModelTrainEvent)
	if !ok {
		return fmt.Errorf("model_train handler received %T", event)
	}

	artifact, err := h.training.Train(ctx, domain.TrainRequest{
		ModelID:       ev.ModelID,
		User:          ev.User,
		Epochs:        ev.Epochs,
		InputVectors:  ev.InputVectors,
		OutputVectors: ev.OutputVectors,
	})
	if err != nil {
		return fmt.Errorf("failed to train model %s: %w", ev.ModelID, err)
	}
	if len(artifact) == 0 {
		return domain.ErrEmptyResult
	}

	if err := h.blobs.Upload(ctx, artifact, h.keys.Model(ev.ModelID)); err != nil {
		return fmt.Errorf("failed to upload trained model: %w", err)
	}
	return nil
}

// isEmptyResult treats nil and empty collections as no result
func isEmptyResult(result any) bool {
	if result == nil {
		return true
	}
	v := reflect.ValueOf(result)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}
