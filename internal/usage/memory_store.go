package usage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process development.
// It honors the same idempotence and atomicity contract as PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]*User         // identity key -> user
	daily   map[string]*DailyUsage   // userID|day
	monthly map[string]*MonthlyUsage // userID|month
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		daily:   make(map[string]*DailyUsage),
		monthly: make(map[string]*MonthlyUsage),
	}
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, identityKey string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[identityKey]; ok {
		cp := *u
		return &cp, nil
	}

	u := &User{
		ID:          uuid.New().String(),
		IdentityKey: identityKey,
		Tier:        "FREE",
		CreatedAt:   time.Now().UTC(),
	}
	s.users[identityKey] = u

	cp := *u
	return &cp, nil
}

// SetTier mutates a user's tier, standing in for the administrative action
// that owns tier assignment in production.
func (s *MemoryStore) SetTier(identityKey, tier string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[identityKey]; ok {
		u.Tier = tier
	}
}

func (s *MemoryStore) GetOrCreateDaily(_ context.Context, userID, day string) (*DailyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + day
	d, ok := s.daily[key]
	if !ok {
		d = &DailyUsage{UserID: userID, Day: day}
		s.daily[key] = d
	}

	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetOrCreateMonthly(_ context.Context, userID, month string) (*MonthlyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + month
	m, ok := s.monthly[key]
	if !ok {
		m = &MonthlyUsage{UserID: userID, Month: month}
		s.monthly[key] = m
	}

	cp := *m
	return &cp, nil
}

func (s *MemoryStore) IncrementDaily(_ context.Context, userID, day string, queryDelta, advancedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + day
	d, ok := s.daily[key]
	if !ok {
		d = &DailyUsage{UserID: userID, Day: day}
		s.daily[key] = d
	}

	d.QueriesUsed += queryDelta
	d.AdvancedUsed += advancedDelta
	return nil
}

func (s *MemoryStore) IncrementMonthlyCost(_ context.Context, userID, month string, costDelta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "|" + month
	m, ok := s.monthly[key]
	if !ok {
		m = &MonthlyUsage{UserID: userID, Month: month}
		s.monthly[key] = m
	}

	m.CostAccruedUSD += costDelta
	return nil
}
