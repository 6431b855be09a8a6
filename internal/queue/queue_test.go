package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/internal/jobstatus"
	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	p.bodies = append(p.bodies, body)
	return p.err
}

func noop(ctx context.Context, job *domain.Job) error { return nil }

func logoPayload(user string) domain.LogoJob {
	return domain.LogoJob{
		Envelope:  domain.Envelope{UserID: user, ChatID: "chat-" + user, Prompt: "coffee", Count: 3, Cost: 50},
		BrandName: "Brew",
	}
}

func TestEnqueue_PersistsAndWakes(t *testing.T) {
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	statuses := jobstatus.NewMemoryCache()
	q := New(store, pub, statuses, logger.NewNop())

	job, err := q.Enqueue(context.Background(), logoPayload("u1"), EnqueueOptions{Timeout: 5 * time.Minute})
	require.NoError(t, err)

	assert.Equal(t, domain.JobTypeLogo, job.JobType)
	assert.Equal(t, "u1", job.UserID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 300, job.TimeoutSeconds)
	assert.Equal(t, 1, store.Len())

	require.Len(t, pub.bodies, 1)
	var msg domain.JobMessage
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, job.JobID, msg.JobID)

	status, err := statuses.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, status.State)

	payload, err := domain.DecodePayload(job.JobType, job.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Brew", payload.(domain.LogoJob).BrandName)
}

func TestEnqueue_PublishFailureIsNotFatal(t *testing.T) {
	store := NewMemoryStore()
	q := New(store, &recordingPublisher{err: errors.New("broker down")}, nil, logger.NewNop())

	_, err := q.Enqueue(context.Background(), logoPayload("u1"), EnqueueOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestEnqueue_IdempotencyKey(t *testing.T) {
	store := NewMemoryStore()
	pub := &recordingPublisher{}
	q := New(store, pub, nil, logger.NewNop())
	ctx := context.Background()

	first, err := q.Enqueue(ctx, logoPayload("u1"), EnqueueOptions{IdempotencyKey: "confirm-123"})
	require.NoError(t, err)

	second, err := q.Enqueue(ctx, logoPayload("u1"), EnqueueOptions{IdempotencyKey: "confirm-123"})
	require.NoError(t, err)

	assert.Equal(t, first.JobID, second.JobID)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, pub.bodies, 1)
}

func TestRegisterHandler(t *testing.T) {
	q := New(NewMemoryStore(), nil, nil, logger.NewNop())

	require.NoError(t, q.RegisterHandler(domain.JobTypeLogo, HandlerFunc(noop)))
	assert.Error(t, q.RegisterHandler(domain.JobTypeLogo, HandlerFunc(noop)))
	assert.ErrorIs(t, q.RegisterHandler("video", HandlerFunc(noop)), domain.ErrUnknownJobType)
	assert.Error(t, q.RegisterHandler(domain.JobTypeMeme, nil))

	_, ok := q.Handler(domain.JobTypeLogo)
	assert.True(t, ok)
	_, ok = q.Handler(domain.JobTypeMeme)
	assert.False(t, ok)
}

func TestValidate_ReportsMissingTypes(t *testing.T) {
	q := New(NewMemoryStore(), nil, nil, logger.NewNop())
	require.NoError(t, q.RegisterHandler(domain.JobTypeLogo, HandlerFunc(noop)))

	err := q.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingHandler)
	assert.Contains(t, err.Error(), "sticker")

	for _, jt := range domain.JobTypes[1:] {
		require.NoError(t, q.RegisterHandler(jt, HandlerFunc(noop)))
	}
	assert.NoError(t, q.Validate())
}

func TestMemoryStore_ClaimFIFOAndRecover(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		_, _, err := store.Insert(ctx, &domain.Job{JobID: id, JobType: domain.JobTypeMeme, EnqueuedAt: base.Add(time.Duration(i) * time.Second)})
		require.NoError(t, err)
	}

	claimed, err := store.Claim(ctx, "w1", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "c", claimed[0].JobID)
	assert.Equal(t, "a", claimed[1].JobID)
	assert.Equal(t, domain.JobStatusRunning, claimed[0].Status)

	again, err := store.Claim(ctx, "w2", 5)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "b", again[0].JobID)

	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := store.RecoverStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	job, err := store.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Nil(t, job.WorkerID)
}

func TestMemoryStore_ListPagination(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, _, err := store.Insert(ctx, &domain.Job{
			JobID:      string(rune('a' + i)),
			JobType:    domain.JobTypeLogo,
			UserID:     "u1",
			EnqueuedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	page, err := store.List(ctx, Filter{UserID: "u1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "e", page[0].JobID)
	assert.Equal(t, "d", page[1].JobID)

	next, err := store.List(ctx, Filter{UserID: "u1", PageSize: 2, Cursor: &Cursor{EnqueuedAt: page[1].EnqueuedAt, JobID: page[1].JobID}})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, "c", next[0].JobID)

	none, err := store.List(ctx, Filter{UserID: "u2", PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCursor_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	c := Cursor{EnqueuedAt: at, JobID: "3f0c6d0e-5a7b-4c1d-9e2f-8a9b0c1d2e3f"}

	parsed, err := ParseCursor(c.Encode())
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.True(t, parsed.EnqueuedAt.Equal(at))
	assert.Equal(t, c.JobID, parsed.JobID)

	empty, err := ParseCursor("")
	require.NoError(t, err)
	assert.Nil(t, empty)

	for _, bad := range []string{"%%%", "bm90LWEtY3Vyc29y", "YWJjfA"} {
		_, err := ParseCursor(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}
