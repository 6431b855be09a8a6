package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/jobstatus"
	"github.com/cuongbtq/brandgen/internal/queue"
	"github.com/cuongbtq/brandgen/shared/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store    *queue.MemoryStore
	statuses *jobstatus.MemoryCache
	queue    *queue.Queue
}

func newHarness(t *testing.T, handlers map[domain.JobType]queue.HandlerFunc) *harness {
	t.Helper()

	h := &harness{
		store:    queue.NewMemoryStore(),
		statuses: jobstatus.NewMemoryCache(),
	}
	h.queue = queue.New(h.store, nil, h.statuses, logger.NewNop())

	for _, jt := range domain.JobTypes {
		fn, ok := handlers[jt]
		if !ok {
			fn = func(ctx context.Context, job *domain.Job) error { return nil }
		}
		require.NoError(t, h.queue.RegisterHandler(jt, fn))
	}
	return h
}

func (h *harness) enqueue(t *testing.T, payload domain.Payload) *domain.Job {
	t.Helper()
	job, err := h.queue.Enqueue(context.Background(), payload, queue.EnqueueOptions{})
	require.NoError(t, err)
	return job
}

func (h *harness) start(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(context.Background()) }()

	return func() {
		w.Stop()
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func newTestWorker(t *testing.T, h *harness, concurrency int, consumer Consumer) *Worker {
	t.Helper()
	w, err := NewWorker(&Config{
		Logger:       logger.NewNop(),
		Queue:        h.queue,
		Consumer:     consumer,
		WorkerID:     "worker-test",
		Concurrency:  concurrency,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func meme(user string) domain.MemeJob {
	return domain.MemeJob{
		Envelope: domain.Envelope{UserID: user, ChatID: user, Prompt: "cat", Count: 1, Cost: 20},
		Quality:  domain.QualityStandard,
	}
}

func TestNewWorker_RequiresQueueAndID(t *testing.T) {
	_, err := NewWorker(&Config{WorkerID: "w"})
	assert.Error(t, err)

	h := newHarness(t, nil)
	_, err = NewWorker(&Config{Queue: h.queue})
	assert.Error(t, err)
}

func TestStart_FailsWithoutAllHandlers(t *testing.T) {
	q := queue.New(queue.NewMemoryStore(), nil, nil, logger.NewNop())
	require.NoError(t, q.RegisterHandler(domain.JobTypeLogo, queue.HandlerFunc(func(ctx context.Context, job *domain.Job) error { return nil })))

	w, err := NewWorker(&Config{Queue: q, WorkerID: "w", Logger: logger.NewNop()})
	require.NoError(t, err)

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, queue.ErrMissingHandler)
}

func TestWorker_RunsJobsAndDeletesThem(t *testing.T) {
	var ran atomic.Int32
	h := newHarness(t, map[domain.JobType]queue.HandlerFunc{
		domain.JobTypeMeme: func(ctx context.Context, job *domain.Job) error {
			ran.Add(1)
			return nil
		},
	})

	job := h.enqueue(t, meme("u1"))
	stop := h.start(t, newTestWorker(t, h, 2, nil))

	require.Eventually(t, func() bool { return h.store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int32(1), ran.Load())
	status, err := h.statuses.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, status.State)
}

func TestWorker_FailedJobIsDroppedNotRetried(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, map[domain.JobType]queue.HandlerFunc{
		domain.JobTypeMeme: func(ctx context.Context, job *domain.Job) error {
			calls.Add(1)
			return errors.New("provider exploded")
		},
	})

	job := h.enqueue(t, meme("u1"))
	stop := h.start(t, newTestWorker(t, h, 1, nil))

	require.Eventually(t, func() bool { return h.store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	stop()

	assert.Equal(t, int32(1), calls.Load())
	status, err := h.statuses.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, status.State)
	assert.Contains(t, status.Error, "provider exploded")
}

func TestWorker_PanicIsContained(t *testing.T) {
	var after atomic.Int32
	h := newHarness(t, map[domain.JobType]queue.HandlerFunc{
		domain.JobTypeMeme: func(ctx context.Context, job *domain.Job) error {
			panic("boom")
		},
		domain.JobTypeLogo: func(ctx context.Context, job *domain.Job) error {
			after.Add(1)
			return nil
		},
	})

	panicked := h.enqueue(t, meme("u1"))
	stop := h.start(t, newTestWorker(t, h, 1, nil))

	require.Eventually(t, func() bool { return h.store.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	h.enqueue(t, domain.LogoJob{Envelope: domain.Envelope{UserID: "u2", Count: 3, Cost: 50}, BrandName: "B"})
	require.Eventually(t, func() bool { return after.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	status, err := h.statuses.Get(context.Background(), panicked.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, status.State)
	assert.Contains(t, status.Error, "panicked")
}

func TestWorker_RespectsConcurrencyBound(t *testing.T) {
	const bound = 3

	var (
		mu      sync.Mutex
		running int
		peak    int
		done    atomic.Int32
	)
	release := make(chan struct{})

	h := newHarness(t, map[domain.JobType]queue.HandlerFunc{
		domain.JobTypeMeme: func(ctx context.Context, job *domain.Job) error {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			<-release

			mu.Lock()
			running--
			mu.Unlock()
			done.Add(1)
			return nil
		},
	})

	for i := 0; i < 10; i++ {
		h.enqueue(t, meme("u1"))
	}

	stop := h.start(t, newTestWorker(t, h, bound, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return running == bound
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	close(release)

	require.Eventually(t, func() bool { return done.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, bound, peak)
}

func TestWorker_StopWaitsForInFlightJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool

	h := newHarness(t, map[domain.JobType]queue.HandlerFunc{
		domain.JobTypeMeme: func(ctx context.Context, job *domain.Job) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	h.enqueue(t, meme("u1"))
	stop := h.start(t, newTestWorker(t, h, 1, nil))

	<-started
	stop()

	assert.True(t, finished.Load())
	assert.Equal(t, 0, h.store.Len())
}

type fakeAcknowledger struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks.Add(1)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks.Add(1)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.nacks.Add(1)
	return nil
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
}

func (c *fakeConsumer) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func TestMessageDispatcher_AcksValidAndRejectsMalformed(t *testing.T) {
	h := newHarness(t, nil)
	consumer := &fakeConsumer{deliveries: make(chan amqp.Delivery, 3)}
	w := newTestWorker(t, h, 1, consumer)

	ack := &fakeAcknowledger{}
	consumer.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"job_id":"6f1c2b7e-8a51-4d6c-9a55-0c6d2f1f9e01","job_type":"meme"}`)}
	consumer.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`not json`)}
	consumer.deliveries <- amqp.Delivery{Acknowledger: ack, Body: []byte(`{"job_id":"nope"}`)}
	close(consumer.deliveries)

	deliveries, err := w.setupConsumer()
	require.NoError(t, err)
	w.startMessageDispatcher(context.Background(), deliveries)

	assert.Equal(t, int32(1), ack.acks.Load())
	assert.Equal(t, int32(2), ack.nacks.Load())

	select {
	case <-w.wake:
	default:
		t.Fatal("expected a wake-up signal")
	}
}
