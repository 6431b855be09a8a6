package worker

import (
	"context"
	"log/slog"
	"time"
)

// claimLoop polls the store whenever a slot is free, claiming at most as
// many jobs as there are free slots
func (w *Worker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.fill(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// fill acquires every free slot, claims that many jobs and releases the
// slots it could not use
func (w *Worker) fill(ctx context.Context) {
	slots := 0
	for slots < w.concurrency && w.sem.TryAcquire(1) {
		slots++
	}
	if slots == 0 {
		return
	}

	jobs, err := w.store.Claim(ctx, w.workerID, slots)
	if err != nil {
		w.sem.Release(int64(slots))
		if ctx.Err() == nil {
			w.logger.Error("Failed to claim jobs",
				slog.String("worker_id", w.workerID),
				slog.Any("error", err),
			)
		}
		return
	}

	if unused := slots - len(jobs); unused > 0 {
		w.sem.Release(int64(unused))
	}

	// Claimed jobs drain on shutdown instead of being aborted mid-call
	jobCtx := context.WithoutCancel(ctx)
	for _, job := range jobs {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer w.sem.Release(1)
			defer w.Wake()
			w.processJob(jobCtx, job)
		}()
	}
}

// recoverLoop returns jobs with stale heartbeats to the pending state
func (w *Worker) recoverLoop(ctx context.Context) {
	ticker := time.NewTicker(w.recoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.store.RecoverStale(ctx, w.staleAfter)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("Failed to recover stale jobs", slog.Any("error", err))
				}
				continue
			}
			if n > 0 {
				w.logger.Warn("Recovered stale jobs",
					slog.Int("count", n),
					slog.Duration("stale_after", w.staleAfter),
				)
				w.Wake()
			}
		}
	}
}
