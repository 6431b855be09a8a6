// Package records persists the outcome of successful generations.
package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store saves and lists generation records
type Store interface {
	Save(ctx context.Context, rec *domain.GenerationRecord) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.GenerationRecord, error)
}

func prepare(rec *domain.GenerationRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

// PostgresStore stores records in the generations table
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

type generationRow struct {
	ID        string    `db:"id"`
	JobID     string    `db:"job_id"`
	UserID    string    `db:"user_id"`
	JobType   string    `db:"job_type"`
	Cost      int       `db:"cost"`
	URLs      string    `db:"urls"`
	Metadata  string    `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *PostgresStore) Save(ctx context.Context, rec *domain.GenerationRecord) error {
	prepare(rec)

	urls, err := json.Marshal(rec.URLs)
	if err != nil {
		return fmt.Errorf("failed to marshal urls: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO generations (id, job_id, user_id, job_type, cost, urls, metadata, created_at)
		VALUES (:id, :job_id, :user_id, :job_type, :cost, :urls, :metadata, :created_at)
	`

	row := generationRow{
		ID:        rec.ID,
		JobID:     rec.JobID,
		UserID:    rec.UserID,
		JobType:   string(rec.Type),
		Cost:      rec.Cost,
		URLs:      string(urls),
		Metadata:  string(metadata),
		CreatedAt: rec.CreatedAt,
	}

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to save generation record: %w", err)
	}

	s.logger.Debug("Generation record saved",
		slog.String("id", rec.ID),
		slog.String("job_id", rec.JobID),
	)

	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.GenerationRecord, error) {
	query := `
		SELECT id, job_id, user_id, job_type, cost, urls, metadata, created_at
		FROM generations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var rows []generationRow
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list generation records: %w", err)
	}

	out := make([]domain.GenerationRecord, 0, len(rows))
	for _, r := range rows {
		rec := domain.GenerationRecord{
			ID:        r.ID,
			JobID:     r.JobID,
			UserID:    r.UserID,
			Type:      domain.JobType(r.JobType),
			Cost:      r.Cost,
			CreatedAt: r.CreatedAt,
		}
		if err := json.Unmarshal([]byte(r.URLs), &rec.URLs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal urls: %w", err)
		}
		if len(r.Metadata) > 0 {
			if err := json.Unmarshal([]byte(r.Metadata), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, rec)
	}

	return out, nil
}

// MemoryStore keeps records in memory
type MemoryStore struct {
	mu      sync.Mutex
	records []domain.GenerationRecord
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(ctx context.Context, rec *domain.GenerationRecord) error {
	prepare(rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.GenerationRecord
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// All returns every record in insertion order
func (s *MemoryStore) All() []domain.GenerationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GenerationRecord(nil), s.records...)
}
