package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/jobstatus"
)

// processJob runs one claimed job. Failures are logged and the job is
// dropped; it is never requeued.
func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	log := w.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("job_type", string(job.JobType)),
		slog.String("worker_id", w.workerID),
	)
	log.Info("Processing job")

	status := jobstatus.Status{
		JobID:   job.JobID,
		JobType: string(job.JobType),
		UserID:  job.UserID,
		State:   domain.JobStatusRunning,
	}
	w.queue.SetStatus(ctx, status)

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(ctx, job.JobID, heartbeatDone)

	timeout := w.defaultTimeout
	if job.TimeoutSeconds > 0 {
		timeout = time.Duration(job.TimeoutSeconds) * time.Second
	}

	started := time.Now()
	err := w.executeJob(ctx, job)
	elapsed := time.Since(started)
	close(heartbeatDone)

	if elapsed > timeout {
		log.Warn("Job ran past its advisory timeout",
			slog.Duration("elapsed", elapsed),
			slog.Duration("timeout", timeout),
		)
	}

	status.State = domain.JobStatusSucceeded
	if err != nil {
		status.State = domain.JobStatusFailed
		status.Error = err.Error()
		var correlated *domain.CorrelatedError
		if errors.As(err, &correlated) {
			status.CorrelationRef = correlated.Ref
		}
		log.Error("Job execution failed, dropping job",
			slog.String("error_kind", string(domain.KindOf(err))),
			slog.Any("error", err),
		)
	} else {
		log.Info("Job completed successfully", slog.Duration("elapsed", elapsed))
	}

	// Outcome writes use a detached context so shutdown cannot lose them.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	w.queue.SetStatus(finishCtx, status)
	if delErr := w.store.Delete(finishCtx, job.JobID); delErr != nil {
		log.Error("Failed to delete finished job", slog.Any("error", delErr))
	}
}

// executeJob dispatches to the registered handler, converting panics to errors
func (w *Worker) executeJob(ctx context.Context, job *domain.Job) (err error) {
	handler, ok := w.queue.Handler(job.JobType)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJobType, job.JobType)
	}

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job handler panicked",
				slog.String("job_id", job.JobID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()

	return handler.Handle(ctx, job)
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.Heartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}
