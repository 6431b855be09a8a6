package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/cuongbtq/brandgen/internal/domain"
	"github.com/cuongbtq/brandgen/shared/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(users ...domain.User) (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	for _, u := range users {
		store.PutUser(u)
	}
	return New(store, Config{}, logger.NewNop()), store
}

func strPtr(s string) *string { return &s }

func TestCheckEntitlement(t *testing.T) {
	l, _ := newTestLedger(
		domain.User{UserID: "rich", Balance: 200},
		domain.User{UserID: "poor", Balance: 30},
		domain.User{UserID: "used", Balance: 0, FreeUsed: true},
	)
	ctx := context.Background()

	tests := []struct {
		name        string
		userID      string
		cost        int
		wantAllowed bool
		wantFree    bool
	}{
		{"enough balance", "rich", 50, true, true},
		{"exact balance", "poor", 30, true, true},
		{"insufficient balance", "poor", 50, false, true},
		{"free path costs nothing", "poor", 0, true, true},
		{"free already used reported", "used", 0, true, false},
		{"unknown user is fresh", "ghost", 50, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent, err := l.CheckEntitlement(ctx, tt.userID, tt.cost)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, ent.Allowed)
			assert.Equal(t, tt.wantFree, ent.FreeAvailable)
			if !tt.wantAllowed {
				assert.Equal(t, ReasonInsufficientBalance, ent.Reason)
			}
		})
	}
}

func TestCheckEntitlement_DoesNotMutate(t *testing.T) {
	l, store := newTestLedger(domain.User{UserID: "u1", Balance: 30})

	_, err := l.CheckEntitlement(context.Background(), "u1", 50)
	require.NoError(t, err)

	u, err := store.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, u.Balance)
	assert.False(t, u.FreeUsed)
}

func TestSettle_FreeLogo(t *testing.T) {
	l, store := newTestLedger(domain.User{UserID: "u1", Balance: 0})
	ctx := context.Background()

	out, err := l.Settle(ctx, "u1", Settlement{Marker: "job-1", UsedFreeGeneration: true, Cost: 0})
	require.NoError(t, err)
	assert.True(t, out.FreeConsumed)
	assert.Zero(t, out.Debited)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.FreeUsed)
	assert.Equal(t, 0, u.Balance)
}

func TestSettle_Debit(t *testing.T) {
	l, store := newTestLedger(domain.User{UserID: "u1", Balance: 200})
	ctx := context.Background()

	out, err := l.Settle(ctx, "u1", Settlement{Marker: "job-1", Cost: 150})
	require.NoError(t, err)
	assert.Equal(t, 150, out.Debited)

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 50, u.Balance)
	assert.False(t, u.FreeUsed)
}

func TestSettle_Idempotent(t *testing.T) {
	l, store := newTestLedger(domain.User{UserID: "u1", Balance: 200})
	ctx := context.Background()

	_, err := l.Settle(ctx, "u1", Settlement{Marker: "job-1", Cost: 50})
	require.NoError(t, err)

	out, err := l.Settle(ctx, "u1", Settlement{Marker: "job-1", Cost: 50})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 150, u.Balance)
}

func TestSettle_NeverNegative(t *testing.T) {
	l, store := newTestLedger(domain.User{UserID: "u1", Balance: 30})
	ctx := context.Background()

	_, err := l.Settle(ctx, "u1", Settlement{Marker: "job-1", Cost: 50})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 30, u.Balance)
}

func TestSettle_FreeUsedTwice(t *testing.T) {
	l, _ := newTestLedger(domain.User{UserID: "u1", FreeUsed: true})

	_, err := l.Settle(context.Background(), "u1", Settlement{Marker: "job-2", UsedFreeGeneration: true})
	assert.ErrorIs(t, err, domain.ErrFreeGenerationUsed)
}

func TestSettle_MissingMarker(t *testing.T) {
	l, _ := newTestLedger()

	_, err := l.Settle(context.Background(), "u1", Settlement{Cost: 10})
	require.Error(t, err)
}

func TestSettle_ConcurrentDebitsStayNonNegative(t *testing.T) {
	l, store := newTestLedger(domain.User{UserID: "u1", Balance: 100})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Settle(ctx, "u1", Settlement{Marker: fmt.Sprintf("job-%d", i), Cost: 30})
		}(i)
	}
	wg.Wait()

	u, _ := store.GetUser(ctx, "u1")
	assert.Equal(t, 10, u.Balance)
}

func TestSettle_ConcurrentFreeConsumedOnce(t *testing.T) {
	l, _ := newTestLedger(domain.User{UserID: "u1"})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		consumed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, _ := l.Settle(ctx, "u1", Settlement{Marker: fmt.Sprintf("job-%d", i), UsedFreeGeneration: true})
			if out.FreeConsumed {
				mu.Lock()
				consumed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, consumed)
}

func TestSettle_ReferralConvertsOnce(t *testing.T) {
	l, store := newTestLedger(
		domain.User{UserID: "referrer", Balance: 0},
		domain.User{UserID: "invitee", Balance: 100, ReferredBy: strPtr("referrer")},
	)
	ctx := context.Background()

	out, err := l.Settle(ctx, "invitee", Settlement{Marker: "job-1", Cost: 20})
	require.NoError(t, err)
	assert.True(t, out.ReferralCredited)

	out, err = l.Settle(ctx, "invitee", Settlement{Marker: "job-2", Cost: 20})
	require.NoError(t, err)
	assert.False(t, out.ReferralCredited)

	referrer, _ := store.GetUser(ctx, "referrer")
	assert.Equal(t, DefaultReferralReward, referrer.Balance)

	invitee, _ := store.GetUser(ctx, "invitee")
	assert.True(t, invitee.Converted)
	assert.Equal(t, 60, invitee.Balance)
}

func TestSettle_ReferralOnFreeGeneration(t *testing.T) {
	store := NewMemoryStore()
	store.PutUser(domain.User{UserID: "invitee", ReferredBy: strPtr("referrer")})
	l := New(store, Config{ReferralReward: 75}, logger.NewNop())
	ctx := context.Background()

	out, err := l.Settle(ctx, "invitee", Settlement{Marker: "job-1", UsedFreeGeneration: true})
	require.NoError(t, err)
	assert.True(t, out.ReferralCredited)

	referrer, err := store.GetUser(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 75, referrer.Balance)
}

func TestSettle_UnknownUserCreated(t *testing.T) {
	l, store := newTestLedger()
	ctx := context.Background()

	out, err := l.Settle(ctx, "new", Settlement{Marker: "job-1", UsedFreeGeneration: true})
	require.NoError(t, err)
	assert.True(t, out.FreeConsumed)

	u, err := store.GetUser(ctx, "new")
	require.NoError(t, err)
	assert.True(t, u.FreeUsed)
}

func TestBalance_UnknownUser(t *testing.T) {
	l, _ := newTestLedger()

	u, err := l.Balance(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", u.UserID)
	assert.Zero(t, u.Balance)
}
