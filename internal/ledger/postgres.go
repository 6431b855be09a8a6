package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store on the users and settlements tables
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

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, balance, free_used, converted, referred_by, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`

	var user domain.User
	if err := s.db.GetContext(ctx, &user, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID string) error {
	query := `
		INSERT INTO users (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordSettlement(ctx context.Context, marker, userID string, cost int, usedFree bool) (bool, error) {
	query := `
		INSERT INTO settlements (marker, user_id, cost, used_free)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (marker) DO NOTHING
	`

	return s.execAffected(ctx, "record settlement", query, marker, userID, cost, usedFree)
}

func (s *PostgresStore) ConsumeFreeGeneration(ctx context.Context, userID string) (bool, error) {
	query := `
		UPDATE users
		SET free_used = TRUE,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND free_used = FALSE
	`

	return s.execAffected(ctx, "consume free generation", query, userID)
}

func (s *PostgresStore) Debit(ctx context.Context, userID string, amount int) (bool, error) {
	query := `
		UPDATE users
		SET balance = balance - $2,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND balance >= $2
	`

	ok, err := s.execAffected(ctx, "debit balance", query, userID, amount)
	if err == nil && !ok {
		s.logger.Warn("Debit rejected - insufficient balance",
			slog.String("user_id", userID),
			slog.Int("amount", amount),
		)
	}
	return ok, err
}

func (s *PostgresStore) Credit(ctx context.Context, userID string, amount int) error {
	query := `
		INSERT INTO users (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = users.balance + EXCLUDED.balance,
		    updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, userID, amount); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkConverted(ctx context.Context, userID string) (bool, error) {
	query := `
		UPDATE users
		SET converted = TRUE,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND converted = FALSE
		  AND referred_by IS NOT NULL
	`

	return s.execAffected(ctx, "mark referral converted", query, userID)
}

func (s *PostgresStore) execAffected(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}
