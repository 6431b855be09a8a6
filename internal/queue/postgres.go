package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `job_id, job_type, user_id, idempotency_key, payload, status, worker_id, timeout_seconds, enqueued_at, claimed_at`

// PostgresStore implements Store on the jobs table
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

func (s *PostgresStore) Insert(ctx context.Context, job *domain.Job) (*domain.Job, bool, error) {
	query := `
		INSERT INTO jobs (job_id, job_type, user_id, idempotency_key, payload, status, timeout_seconds, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING ` + jobColumns

	var stored domain.Job
	err := s.db.GetContext(ctx, &stored, query,
		job.JobID,
		job.JobType,
		job.UserID,
		job.IdempotencyKey,
		string(job.Payload),
		domain.JobStatusPending,
		job.TimeoutSeconds,
		job.EnqueuedAt,
	)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || job.IdempotencyKey == nil {
		return nil, false, fmt.Errorf("failed to insert job: %w", err)
	}

	existing := domain.Job{}
	query = `SELECT ` + jobColumns + ` FROM jobs WHERE idempotency_key = $1`
	if err := s.db.GetContext(ctx, &existing, query, *job.IdempotencyKey); err != nil {
		return nil, false, fmt.Errorf("failed to load job by idempotency key: %w", err)
	}

	s.logger.Info("Duplicate enqueue, returning existing job",
		slog.String("job_id", existing.JobID),
		slog.String("idempotency_key", *job.IdempotencyKey),
	)

	return &existing, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (enqueued_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.EnqueuedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// one extra row tells the caller whether another page exists
	query += fmt.Sprintf(" ORDER BY enqueued_at DESC, job_id DESC LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    claimed_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id IN (
			SELECT job_id
			FROM jobs
			WHERE status = $3
			ORDER BY enqueued_at, job_id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	var jobs []*domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, domain.JobStatusRunning, workerID, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	// RETURNING does not preserve the subquery order
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt) })

	for _, job := range jobs {
		s.logger.Info("Job claimed successfully",
			slog.String("job_id", job.JobID),
			slog.String("worker_id", workerID),
			slog.String("job_type", string(job.JobType)),
		)
	}

	return jobs, nil
}

func (s *PostgresStore) Heartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

func (s *PostgresStore) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE status = $2
		  AND last_heartbeat_at < NOW() - make_interval(secs => $3)
	`

	result, err := s.db.ExecContext(ctx, query, domain.JobStatusPending, domain.JobStatusRunning, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale jobs: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}
