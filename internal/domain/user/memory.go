package user

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used in tests and local
// development.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[uuid.UUID]*User)}
}

// Put inserts or replaces a user.
func (m *MemoryRepository) Put(u *User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) SetPlan(_ context.Context, id uuid.UUID, planID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PlanID = toNullUUID(planID)
	u.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) SetPlanAndClearBilling(_ context.Context, id uuid.UUID, planID *uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PlanID = toNullUUID(planID)
	u.StripeCustomerID.Valid = false
	u.StripeSubscriptionID.Valid = false
	u.PaypalSubscriptionID.Valid = false
	u.DodoSubscriptionID.Valid = false
	u.LemonSqueezyCustomerID.Valid = false
	u.LemonSqueezySubscriptionID.Valid = false
	u.UpdatedAt = time.Now()
	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
