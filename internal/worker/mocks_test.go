package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// callLog records collaborator calls across mocks so tests can assert ordering
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type mockStore struct {
	mock.Mock
	log *callLog
}

func (m *mockStore) UpdateJobState(ctx context.Context, jobID uuid.UUID, state domain.JobState) error {
	m.log.add("state:%d", state)
	args := m.Called(ctx, jobID, state)
	return args.Error(0)
}

type mockBlobs struct {
	mock.Mock
	log *callLog
}

func (m *mockBlobs) Upload(ctx context.Context, data []byte, path string) error {
	m.log.add("upload:%s", path)
	args := m.Called(ctx, data, path)
	return args.Error(0)
}

func (m *mockBlobs) Download(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type mockInference struct {
	mock.Mock
}

func (m *mockInference) Run(ctx context.Context, modelID, jobID uuid.UUID, user string) (any, error) {
	args := m.Called(ctx, modelID, jobID, user)
	return args.Get(0), args.Error(1)
}

type mockTraining struct {
	mock.Mock
}

func (m *mockTraining) Train(ctx context.Context, req domain.TrainRequest) ([]byte, error) {
	args := m.Called(ctx, req)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

// memStore enforces the job state machine in memory
type memStore struct {
	mu     sync.Mutex
	states map[uuid.UUID]domain.JobState
	fail   map[domain.JobState]int
	log    []domain.JobState
}

func newMemStore(ids ...uuid.UUID) *memStore {
	s := &memStore{states: make(map[uuid.UUID]domain.JobState), fail: make(map[domain.JobState]int)}
	for _, id := range ids {
		s.states[id] = domain.JobStateQueued
	}
	return s
}

func (s *memStore) UpdateJobState(_ context.Context, jobID uuid.UUID, state domain.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail[state] > 0 {
		s.fail[state]--
		return fmt.Errorf("connection reset by peer")
	}

	current, ok := s.states[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if current == state && state.IsTerminal() {
		return nil
	}
	if !domain.CanTransition(current, state) {
		return &domain.TransitionError{JobID: jobID, From: current, To: state}
	}
	s.states[jobID] = state
	s.log = append(s.log, state)
	return nil
}

func (s *memStore) state(jobID uuid.UUID) domain.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[jobID]
}

func (s *memStore) history() []domain.JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.JobState(nil), s.log...)
}

// recordingAck records how a delivery was settled
type recordingAck struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
	done    chan struct{}
	once    sync.Once
}

func newRecordingAck() *recordingAck {
	return &recordingAck{done: make(chan struct{})}
}

func (a *recordingAck) Ack() error {
	a.mu.Lock()
	a.acks++
	a.mu.Unlock()
	a.once.Do(func() { close(a.done) })
	return nil
}

func (a *recordingAck) Nack(requeue bool) error {
	a.mu.Lock()
	a.nacks++
	a.requeue = requeue
	a.mu.Unlock()
	a.once.Do(func() { close(a.done) })
	return nil
}

func (a *recordingAck) counts() (acks, nacks int, requeue bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.requeue
}
