package queue

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
)

// Cursor marks a position in a newest-first job listing
type Cursor struct {
	EnqueuedAt time.Time
	JobID      string
}

// ErrInvalidCursor is returned for cursors not produced by Cursor.Encode
var ErrInvalidCursor = errors.New("invalid cursor")

// Encode renders the cursor as an opaque URL-safe token
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.EnqueuedAt.UnixNano(), 10) + "|" + c.JobID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor decodes a token from Encode. An empty token means the first page.
func ParseCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	nanos, jobID, ok := strings.Cut(string(decoded), "|")
	if !ok || jobID == "" {
		return nil, ErrInvalidCursor
	}

	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{EnqueuedAt: time.Unix(0, n).UTC(), JobID: jobID}, nil
}

// Filter selects jobs for listing
type Filter struct {
	UserID   string
	JobType  string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Store is the durable job table
type Store interface {
	// Insert persists a pending job. When a job with the same idempotency key
	// exists, that job is returned with created == false.
	Insert(ctx context.Context, job *domain.Job) (stored *domain.Job, created bool, err error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	List(ctx context.Context, filter Filter) ([]domain.Job, error)
	// Claim atomically moves up to limit pending jobs, oldest first, to running.
	Claim(ctx context.Context, workerID string, limit int) ([]*domain.Job, error)
	Heartbeat(ctx context.Context, jobID string) error
	// RecoverStale returns running jobs whose heartbeat is older than staleAfter to pending.
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error)
	Delete(ctx context.Context, jobID string) error
}
