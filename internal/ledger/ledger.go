// Package ledger tracks spendable credits, the one-time free generation and
// referral conversions. Balance changes are single-statement atomic updates
// in the store, so concurrent jobs for one user need no in-process lock.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/brandgen/internal/domain"
)

// Reason codes returned with a denied entitlement
const (
	ReasonInsufficientBalance = "insufficient_balance"
)

// DefaultReferralReward is credited to a referrer when a referred user first settles
const DefaultReferralReward = 50

// Config holds ledger configuration
type Config struct {
	ReferralReward int
}

// Entitlement is the read-only answer to "may this user spend cost?"
type Entitlement struct {
	Allowed       bool
	Reason        string
	Cost          int
	Balance       int
	FreeAvailable bool
}

// Settlement describes the billable outcome of one job
type Settlement struct {
	// Marker identifies the outcome; a marker is settled at most once.
	Marker             string
	UsedFreeGeneration bool
	Cost               int
}

// Outcome reports what Settle changed
type Outcome struct {
	Duplicate        bool
	FreeConsumed     bool
	Debited          int
	ReferralCredited bool
}

// Ledger is the only writer of user balances
type Ledger struct {
	store          Store
	logger         *slog.Logger
	referralReward int
}

// New creates a Ledger
func New(store Store, cfg Config, logger *slog.Logger) *Ledger {
	reward := cfg.ReferralReward
	if reward <= 0 {
		reward = DefaultReferralReward
	}
	return &Ledger{
		store:          store,
		logger:         logger,
		referralReward: reward,
	}
}

// CheckEntitlement reports whether userID can pay cost. A zero cost is the free
// path and is always allowed. Unknown users are treated as fresh accounts.
func (l *Ledger) CheckEntitlement(ctx context.Context, userID string, cost int) (Entitlement, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return Entitlement{}, fmt.Errorf("failed to load user: %w", err)
		}
		user = &domain.User{UserID: userID}
	}

	ent := Entitlement{
		Cost:          cost,
		Balance:       user.Balance,
		FreeAvailable: !user.FreeUsed,
	}

	if cost <= 0 || user.Balance >= cost {
		ent.Allowed = true
		return ent, nil
	}

	ent.Reason = ReasonInsufficientBalance
	return ent, nil
}

// Balance returns the current ledger view of a user
func (l *Ledger) Balance(ctx context.Context, userID string) (*domain.User, error) {
	user, err := l.store.GetUser(ctx, userID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return &domain.User{UserID: userID}, nil
	}
	return user, err
}

// Settle applies a job outcome: consumes the free generation if it was used,
// debits cost and runs the referral conversion check. Settling the same
// marker twice is a no-op.
func (l *Ledger) Settle(ctx context.Context, userID string, s Settlement) (Outcome, error) {
	var out Outcome

	if s.Marker == "" {
		return out, errors.New("settlement marker is required")
	}

	logger := l.logger.With(
		slog.String("user_id", userID),
		slog.String("marker", s.Marker),
	)

	if err := l.store.EnsureUser(ctx, userID); err != nil {
		return out, fmt.Errorf("failed to ensure user: %w", err)
	}

	recorded, err := l.store.RecordSettlement(ctx, s.Marker, userID, s.Cost, s.UsedFreeGeneration)
	if err != nil {
		return out, fmt.Errorf("failed to record settlement: %w", err)
	}
	if !recorded {
		logger.Info("Settlement already processed, skipping")
		out.Duplicate = true
		return out, nil
	}

	var errs []error

	if s.UsedFreeGeneration {
		consumed, err := l.store.ConsumeFreeGeneration(ctx, userID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to consume free generation: %w", err))
		case !consumed:
			errs = append(errs, domain.ErrFreeGenerationUsed)
		default:
			out.FreeConsumed = true
		}
	}

	if s.Cost > 0 {
		debited, err := l.store.Debit(ctx, userID, s.Cost)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("failed to debit balance: %w", err))
		case !debited:
			errs = append(errs, fmt.Errorf("%w: cost %d", domain.ErrInsufficientBalance, s.Cost))
		default:
			out.Debited = s.Cost
		}
	}

	credited, err := l.convertReferral(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}
	out.ReferralCredited = credited

	logger.Info("Settlement applied",
		slog.Bool("free_consumed", out.FreeConsumed),
		slog.Int("debited", out.Debited),
		slog.Bool("referral_credited", out.ReferralCredited),
	)

	return out, errors.Join(errs...)
}

// convertReferral credits the referrer once, guarded by the user's converted flag
func (l *Ledger) convertReferral(ctx context.Context, userID string) (bool, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load user for referral check: %w", err)
	}

	referrer := user.Referrer()
	if referrer == "" || user.Converted {
		return false, nil
	}

	converted, err := l.store.MarkConverted(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark referral converted: %w", err)
	}
	if !converted {
		return false, nil
	}

	if err := l.store.Credit(ctx, referrer, l.referralReward); err != nil {
		return false, fmt.Errorf("failed to credit referrer %s: %w", referrer, err)
	}

	l.logger.Info("Referral converted",
		slog.String("user_id", userID),
		slog.String("referrer_id", referrer),
		slog.Int("reward", l.referralReward),
	)

	return true, nil
}
