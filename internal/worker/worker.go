// Package worker executes queued jobs with a fixed concurrency bound.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/brandgen/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/semaphore"
)

// Consumer delivers wake-up messages from the broker
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Queue    *queue.Queue
	Consumer Consumer
	WorkerID string

	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	RecoverInterval   time.Duration
	DefaultTimeout    time.Duration
}

// Worker claims jobs from the durable queue and runs their handlers
type Worker struct {
	logger   *slog.Logger
	queue    *queue.Queue
	store    queue.Store
	consumer Consumer
	workerID string

	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	staleAfter        time.Duration
	recoverInterval   time.Duration
	defaultTimeout    time.Duration

	sem      *semaphore.Weighted
	wake     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Queue == nil {
		return nil, errors.New("worker: queue is required")
	}
	if cfg.WorkerID == "" {
		return nil, errors.New("worker: worker id is required")
	}

	w := &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		store:             cfg.Queue.Store(),
		consumer:          cfg.Consumer,
		workerID:          cfg.WorkerID,
		concurrency:       cfg.Concurrency,
		pollInterval:      cfg.PollInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		staleAfter:        cfg.StaleAfter,
		recoverInterval:   cfg.RecoverInterval,
		defaultTimeout:    cfg.DefaultTimeout,
		wake:              make(chan struct{}, 1),
		stopChan:          make(chan struct{}),
	}

	if w.concurrency <= 0 {
		w.concurrency = 3
	}
	if w.pollInterval <= 0 {
		w.pollInterval = 2 * time.Second
	}
	if w.heartbeatInterval <= 0 {
		w.heartbeatInterval = 30 * time.Second
	}
	if w.staleAfter <= 0 {
		w.staleAfter = 5 * time.Minute
	}
	if w.recoverInterval <= 0 {
		w.recoverInterval = time.Minute
	}
	if w.defaultTimeout <= 0 {
		w.defaultTimeout = 10 * time.Minute
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	w.sem = semaphore.NewWeighted(int64(w.concurrency))
	return w, nil
}

// Start validates handler registration and processes jobs until ctx is
// canceled or Stop is called. In-flight jobs finish before Start returns.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.queue.Validate(); err != nil {
		return err
	}

	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-w.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	if w.consumer != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			w.logger.Warn("Wake-up consumer unavailable, relying on polling",
				slog.Any("error", err),
			)
		} else {
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				w.startMessageDispatcher(ctx, deliveries)
			}()
		}
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.recoverLoop(ctx)
	}()

	w.claimLoop(ctx)

	w.logger.Info("Worker context canceled, waiting for in-flight jobs")
	w.wg.Wait()
	w.logger.Info("Worker stopped")
	return nil
}

// Stop signals Start to return once in-flight jobs finish
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}

// Wake asks the claim loop to poll immediately
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
