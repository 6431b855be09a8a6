package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
)

// Store persists users and settlement markers. Every mutating method must be
// atomic on its own; the boolean results report whether the guarded update
// actually happened.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	EnsureUser(ctx context.Context, userID string) error
	RecordSettlement(ctx context.Context, marker, userID string, cost int, usedFree bool) (bool, error)
	ConsumeFreeGeneration(ctx context.Context, userID string) (bool, error)
	Debit(ctx context.Context, userID string, amount int) (bool, error)
	Credit(ctx context.Context, userID string, amount int) error
	MarkConverted(ctx context.Context, userID string) (bool, error)
}

// MemoryStore is an in-process Store for tests and local runs
type MemoryStore struct {
	mu          sync.Mutex
	users       map[string]*domain.User
	settlements map[string]struct{}
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*domain.User),
		settlements: make(map[string]struct{}),
	}
}

// PutUser inserts or replaces a user
func (s *MemoryStore) PutUser(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.users[user.UserID] = &u
}

func (s *MemoryStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (s *MemoryStore) EnsureUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		now := time.Now()
		s.users[userID] = &domain.User{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

func (s *MemoryStore) RecordSettlement(ctx context.Context, marker, userID string, cost int, usedFree bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.settlements[marker]; ok {
		return false, nil
	}
	s.settlements[marker] = struct{}{}
	return true, nil
}

func (s *MemoryStore) ConsumeFreeGeneration(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.FreeUsed {
		return false, nil
	}
	u.FreeUsed = true
	return true, nil
}

func (s *MemoryStore) Debit(ctx context.Context, userID string, amount int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.Balance < amount {
		return false, nil
	}
	u.Balance -= amount
	return true, nil
}

func (s *MemoryStore) Credit(ctx context.Context, userID string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &domain.User{UserID: userID}
		s.users[userID] = u
	}
	u.Balance += amount
	return nil
}

func (s *MemoryStore) MarkConverted(ctx context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, domain.ErrUserNotFound
	}
	if u.Converted || u.ReferredBy == nil {
		return false, nil
	}
	u.Converted = true
	return true, nil
}
