package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/google/uuid"
)

type modelRunBody struct {
	ModelID *string `json:"model_id"`
	User    *string `json:"user"`
}

type modelTrainBody struct {
	ModelID       *string               `json:"model_id"`
	User          *string               `json:"user"`
	Epochs        *int                  `json:"epochs"`
	InputVectors  *[]map[string]float64 `json:"input_vectors"`
	OutputVectors *[][]float64          `json:"output_vectors"`
}

// DecodeEvent parses a message body into a JobEvent.
//
// It returns *domain.DecodeError when the body is not well-formed JSON and
// *domain.ValidationError when it is not an object describing a job event.
// A ValidationError carries the job id once it has been parsed.
func DecodeEvent(body []byte) (domain.JobEvent, error) {
	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		return domain.JobEvent{}, &domain.DecodeError{Err: err}
	}
	if _, ok := top.(map[string]any); !ok {
		return domain.JobEvent{}, &domain.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return domain.JobEvent{}, &domain.DecodeError{Err: err}
	}

	rawID, ok := fields["job_id"]
	if !ok {
		return domain.JobEvent{}, &domain.ValidationError{Field: "job_id", Reason: "is required"}
	}
	var idText string
	if err := json.Unmarshal(rawID, &idText); err != nil {
		return domain.JobEvent{}, &domain.ValidationError{Field: "job_id", Reason: "must be a string", Err: err}
	}
	jobID, err := uuid.Parse(idText)
	if err != nil {
		return domain.JobEvent{}, &domain.ValidationError{Field: "job_id", Reason: "must be a UUID", Err: err}
	}

	// from here on failures can be attributed to the job
	known := uuid.NullUUID{UUID: jobID, Valid: true}
	invalid := func(field, reason string, err error) (domain.JobEvent, error) {
		return domain.JobEvent{}, &domain.ValidationError{JobID: known, Field: field, Reason: reason, Err: err}
	}

	var eventType domain.EventType
	rawType, ok := fields["event_type"]
	if !ok {
		return invalid("event_type", "is required", nil)
	}
	if err := json.Unmarshal(rawType, &eventType); err != nil {
		return invalid("event_type", "must be a string", err)
	}
	if !eventType.IsValid() {
		return invalid("event_type", fmt.Sprintf("unknown event type %q", eventType), nil)
	}

	rawEvent, ok := fields["event"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawEvent), []byte("null")) {
		return invalid("event", "is required", nil)
	}

	var event domain.Event
	switch eventType {
	case domain.EventTypeModelRun:
		event, err = decodeModelRun(rawEvent)
	case domain.EventTypeModelTrain:
		event, err = decodeModelTrain(rawEvent)
	}
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			verr.JobID = known
			return domain.JobEvent{}, verr
		}
		return invalid("event", fmt.Sprintf("does not match %s", eventType), err)
	}

	return domain.JobEvent{JobID: jobID, Type: eventType, Event: event}, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseModelID(v *string) (uuid.UUID, error) {
	if v == nil {
		return uuid.Nil, &domain.ValidationError{Field: "event.model_id", Reason: "is required"}
	}
	id, err := uuid.Parse(*v)
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "event.model_id", Reason: "must be a UUID", Err: err}
	}
	return id, nil
}

func decodeModelRun(raw json.RawMessage) (domain.Event, error) {
	var body modelRunBody
	if err := decodeStrict(raw, &body); err != nil {
		return nil, err
	}

	modelID, err := parseModelID(body.ModelID)
	if err != nil {
		return nil, err
	}
	if body.User == nil {
		return nil, &domain.ValidationError{Field: "event.user", Reason: "is required"}
	}

	return domain.ModelRunEvent{ModelID: modelID, User: *body.User}, nil
}

func decodeModelTrain(raw json.RawMessage) (domain.Event, error) {
	var body modelTrainBody
	if err := decodeStrict(raw, &body); err != nil {
		return nil, err
	}

	modelID, err := parseModelID(body.ModelID)
	if err != nil {
		return nil, err
	}
	if body.User == nil {
		return nil, &domain.ValidationError{Field: "event.user", Reason: "is required"}
	}
	if body.InputVectors == nil {
		return nil, &domain.ValidationError{Field: "event.input_vectors", Reason: "is required"}
	}
	if body.OutputVectors == nil {
		return nil, &domain.ValidationError{Field: "event.output_vectors", Reason: "is required"}
	}

	epochs := domain.DefaultEpochs
	if body.Epochs != nil {
		epochs = *body.Epochs
	}
	if epochs <= 0 {
		return nil, &domain.ValidationError{Field: "event.epochs", Reason: "must be positive"}
	}

	return domain.ModelTrainEvent{
		ModelID:       modelID,
		User:          *body.User,
		Epochs:        epochs,
		InputVectors:  *body.InputVectors,
		OutputVectors: *body.OutputVectors,
	}, nil
}
