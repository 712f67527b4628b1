package worker

import (
	"errors"
	"testing"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJobID   = "11111111-1111-1111-1111-111111111111"
	testModelID = "22222222-2222-2222-2222-222222222222"
)

func TestDecodeEvent_Valid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.Event
	}{
		{
			name: "model run",
			body: `{"job_id":"` + testJobID + `","event_type":"model_run","event":{"model_id":"` + testModelID + `","user":"alice"}}`,
			want: domain.ModelRunEvent{ModelID: uuid.MustParse(testModelID), User: "alice"},
		},
		{
			name: "model train with default epochs",
			body: `{"job_id":"` + testJobID + `","event_type":"model_train","event":{"model_id":"` + testModelID + `","user":"bob",
				"input_vectors":[{"a":1,"b":2.5}],"output_vectors":[[0.5,1]]}}`,
			want: domain.ModelTrainEvent{
				ModelID:       uuid.MustParse(testModelID),
				User:          "bob",
				Epochs:        100,
				InputVectors:  []map[string]float64{{"a": 1, "b": 2.5}},
				OutputVectors: [][]float64{{0.5, 1}},
			},
		},
		{
			name: "model train with explicit epochs",
			body: `{"job_id":"` + testJobID + `","event_type":"model_train","event":{"model_id":"` + testModelID + `","user":"bob",
				"epochs":7,"input_vectors":[],"output_vectors":[]}}`,
			want: domain.ModelTrainEvent{
				ModelID:       uuid.MustParse(testModelID),
				User:          "bob",
				Epochs:        7,
				InputVectors:  []map[string]float64{},
				OutputVectors: [][]float64{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, uuid.MustParse(testJobID), ev.JobID)
			assert.Equal(t, tt.want.Type(), ev.Type)
			assert.Equal(t, tt.want, ev.Event)
		})
	}
}

func TestDecodeEvent_DecodeErrors(t *testing.T) {
	bodies := []string{``, `{`, `not json`, `{"job_id":"x"} trailing`}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			_, err := DecodeEvent([]byte(body))
			require.Error(t, err)

			var derr *domain.DecodeError
			assert.ErrorAs(t, err, &derr)
			_, ok := domain.JobIDFromError(err)
			assert.False(t, ok)
		})
	}
}

func TestDecodeEvent_NonObjectBodies(t *testing.T) {
	bodies := []string{`[]`, `[1,2]`, `"text"`, `null`, `42`, `true`}

	for _, body := range bodies {
		t.Run(body, func(t *testing.T) {
			_, err := DecodeEvent([]byte(body))

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "body", verr.Field)
			var derr *domain.DecodeError
			assert.False(t, errors.As(err, &derr))
			_, ok := domain.JobIDFromError(err)
			assert.False(t, ok)
		})
	}
}

func TestDecodeEvent_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		field     string
		wantJobID bool
	}{
		{
			name:  "missing job id",
			body:  `{"event_type":"model_run","event":{"model_id":"` + testModelID + `","user":"a"}}`,
			field: "job_id",
		},
		{
			name:  "job id not a uuid",
			body:  `{"job_id":"abc","event_type":"model_run","event":{"model_id":"` + testModelID + `","user":"a"}}`,
			field: "job_id",
		},
		{
			name:  "job id not a string",
			body:  `{"job_id":42,"event_type":"model_run","event":{}}`,
			field: "job_id",
		},
		{
			name:      "unknown event type",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_delete","event":{}}`,
			field:     "event_type",
			wantJobID: true,
		},
		{
			name:      "missing event type",
			body:      `{"job_id":"` + testJobID + `","event":{}}`,
			field:     "event_type",
			wantJobID: true,
		},
		{
			name:      "missing event",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_run"}`,
			field:     "event",
			wantJobID: true,
		},
		{
			name:      "null event",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_run","event":null}`,
			field:     "event",
			wantJobID: true,
		},
		{
			name: "model run carrying train fields",
			body: `{"job_id":"` + testJobID + `","event_type":"model_run","event":{"model_id":"` + testModelID + `","user":"a",
				"epochs":5,"input_vectors":[],"output_vectors":[]}}`,
			field:     "event",
			wantJobID: true,
		},
		{
			name:      "model train missing vectors",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_train","event":{"model_id":"` + testModelID + `","user":"a"}}`,
			field:     "event.input_vectors",
			wantJobID: true,
		},
		{
			name:      "missing user",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_run","event":{"model_id":"` + testModelID + `"}}`,
			field:     "event.user",
			wantJobID: true,
		},
		{
			name:      "model id not a uuid",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_run","event":{"model_id":"m-1","user":"a"}}`,
			field:     "event.model_id",
			wantJobID: true,
		},
		{
			name: "non positive epochs",
			body: `{"job_id":"` + testJobID + `","event_type":"model_train","event":{"model_id":"` + testModelID + `","user":"a",
				"epochs":0,"input_vectors":[],"output_vectors":[]}}`,
			field:     "event.epochs",
			wantJobID: true,
		},
		{
			name:      "wrong value type",
			body:      `{"job_id":"` + testJobID + `","event_type":"model_train","event":{"model_id":"` + testModelID + `","user":"a","input_vectors":"x","output_vectors":[]}}`,
			field:     "event",
			wantJobID: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.body))
			require.Error(t, err)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			id, ok := domain.JobIDFromError(err)
			assert.Equal(t, tt.wantJobID, ok)
			if tt.wantJobID {
				assert.Equal(t, uuid.MustParse(testJobID), id)
			}
		})
	}
}
