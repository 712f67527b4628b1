package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/tensor-trigger-worker/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the async_jobs table when it does not exist
const Schema = `
CREATE TABLE IF NOT EXISTS async_jobs (
	job_id       UUID PRIMARY KEY,
	model_id     UUID NOT NULL,
	upload_size  BIGINT NOT NULL DEFAULT 0,
	created      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_updated TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	job_state    SMALLINT NOT NULL DEFAULT 0
)`

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the tables used by the worker
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create async_jobs table: %w", err)
	}
	return nil
}

// CreateJob inserts a QUEUED job
func (s *Storage) CreateJob(ctx context.Context, jobID, modelID uuid.UUID, uploadSize int64) error {
	query := `
		INSERT INTO async_jobs (job_id, model_id, upload_size, job_state)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.db.ExecContext(ctx, query, jobID, modelID, uploadSize, int(domain.JobStateQueued))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
			return fmt.Errorf("job %s: %w", jobID, domain.ErrJobExists)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", jobID.String()),
		slog.String("model_id", modelID.String()),
	)
	return nil
}

// GetJob retrieves a job from the database by its ID
func (s *Storage) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	query := `
		SELECT job_id, model_id, upload_size, created, last_updated, job_state
		FROM async_jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetJobState returns the current state of a job
func (s *Storage) GetJobState(ctx context.Context, jobID uuid.UUID) (domain.JobState, error) {
	var state int
	err := s.db.GetContext(ctx, &state, `SELECT job_state FROM async_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to get job state: %w", err)
	}
	return domain.JobState(state), nil
}

// UpdateJobState moves a job to state if its current state is an allowed predecessor.
//
// Recording a terminal state the job already has is a no-op. Other rejected
// moves return *domain.TransitionError; a missing row returns domain.ErrJobNotFound.
func (s *Storage) UpdateJobState(ctx context.Context, jobID uuid.UUID, state domain.JobState) error {
	query := `
		UPDATE async_jobs
		SET job_state = $2,
		    last_updated = NOW()
		WHERE job_id = $1
		  AND job_state = ANY($3)
	`

	preds := state.Predecessors()
	allowed := make([]int64, 0, len(preds))
	for _, p := range preds {
		allowed = append(allowed, int64(p))
	}

	result, err := s.db.ExecContext(ctx, query, jobID, int(state), pq.Array(allowed))
	if err != nil {
		return fmt.Errorf("failed to update job state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("Job state updated",
			slog.String("job_id", jobID.String()),
			slog.String("state", state.String()),
		)
		return nil
	}

	current, err := s.GetJobState(ctx, jobID)
	if err != nil {
		return err
	}
	if current == state && state.IsTerminal() {
		s.logger.Debug("Job already in terminal state",
			slog.String("job_id", jobID.String()),
			slog.String("state", state.String()),
		)
		return nil
	}

	s.logger.Warn("Job state transition rejected",
		slog.String("job_id", jobID.String()),
		slog.String("from", current.String()),
		slog.String("to", state.String()),
	)
	return &domain.TransitionError{JobID: jobID, From: current, To: state}
}
