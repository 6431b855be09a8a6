// Package queue is the durable, at-least-once FIFO of typed generation jobs.
// Jobs are persisted before Enqueue returns; a broker message only wakes
// workers early and is never the source of truth.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/jobstatus"
	"github.com/google/uuid"
)

// ErrMissingHandler is returned at startup when a job type has no handler
var ErrMissingHandler = errors.New("no handler registered for job type")

// Handler executes one claimed job
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) error {
	return f(ctx, job)
}

// Publisher sends wake-up messages
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// EnqueueOptions tune a single enqueue
type EnqueueOptions struct {
	// Timeout is advisory metadata; nothing enforces it.
	Timeout        time.Duration
	IdempotencyKey string
}

// Queue persists jobs and maps job types to handlers
type Queue struct {
	store     Store
	publisher Publisher
	statuses  jobstatus.Cache
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers map[domain.JobType]Handler
}

// New creates a Queue. publisher and statuses may be nil.
func New(store Store, publisher Publisher, statuses jobstatus.Cache, logger *slog.Logger) *Queue {
	return &Queue{
		store:     store,
		publisher: publisher,
		statuses:  statuses,
		logger:    logger,
		handlers:  make(map[domain.JobType]Handler),
	}
}

// Store returns the underlying job store
func (q *Queue) Store() Store {
	return q.store
}

// Enqueue persists payload as a pending job and returns without waiting for execution
func (q *Queue) Enqueue(ctx context.Context, payload domain.Payload, opts EnqueueOptions) (*domain.Job, error) {
	raw, err := domain.EncodePayload(payload)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		JobID:          uuid.NewString(),
		JobType:        payload.JobType(),
		UserID:         payload.Common().UserID,
		Payload:        raw,
		Status:         domain.JobStatusPending,
		TimeoutSeconds: int(opts.Timeout / time.Second),
		EnqueuedAt:     time.Now().UTC(),
	}
	if opts.IdempotencyKey != "" {
		key := opts.IdempotencyKey
		job.IdempotencyKey = &key
	}

	stored, created, err := q.store.Insert(ctx, job)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, nil
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", stored.JobID),
		slog.String("job_type", string(stored.JobType)),
		slog.String("user_id", stored.UserID),
	)

	q.SetStatus(ctx, jobstatus.Status{
		JobID:   stored.JobID,
		JobType: string(stored.JobType),
		UserID:  stored.UserID,
		State:   domain.JobStatusPending,
	})

	q.wake(ctx, stored)

	return stored, nil
}

// wake publishes a best-effort wake-up; polling picks the job up regardless
func (q *Queue) wake(ctx context.Context, job *domain.Job) {
	if q.publisher == nil {
		return
	}

	body, err := json.Marshal(domain.JobMessage{JobID: job.JobID, JobType: job.JobType})
	if err != nil {
		q.logger.Error("Failed to marshal wake-up message", slog.Any("error", err))
		return
	}

	if err := q.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		q.logger.Warn("Failed to publish wake-up, job will be picked up by polling",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
}

// SetStatus records a job status in the cache, logging failures
func (q *Queue) SetStatus(ctx context.Context, status jobstatus.Status) {
	if q.statuses == nil {
		return
	}
	if err := q.statuses.Set(ctx, status); err != nil {
		q.logger.Warn("Failed to cache job status",
			slog.String("job_id", status.JobID),
			slog.String("state", status.State),
			slog.Any("error", err),
		)
	}
}

// RegisterHandler binds h to jobType. Unknown types and duplicate
// registrations are configuration errors.
func (q *Queue) RegisterHandler(jobType domain.JobType, h Handler) error {
	if !jobType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownJobType, jobType)
	}
	if h == nil {
		return fmt.Errorf("nil handler for job type %q", jobType)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	q.handlers[jobType] = h
	return nil
}

// Handler returns the handler bound to jobType
func (q *Queue) Handler(jobType domain.JobType) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[jobType]
	return h, ok
}

// Validate fails when any known job type lacks a handler
func (q *Queue) Validate() error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var errs []error
	for _, jt := range domain.JobTypes {
		if _, ok := q.handlers[jt]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingHandler, jt))
		}
	}
	return errors.Join(errs...)
}
