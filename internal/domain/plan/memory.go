package plan

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and local
// development.
type MemoryRepository struct {
	mu     sync.RWMutex
	plans  map[uuid.UUID]*Plan
	grants []CreditGrant
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{plans: make(map[uuid.UUID]*Plan)}
}

// PutPlan inserts or replaces a plan.
func (m *MemoryRepository) PutPlan(p *Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
}

// PutGrant adds an allocation rule.
func (m *MemoryRepository) PutGrant(g CreditGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants = append(m.grants, g)
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryRepository) GetByCouponCount(_ context.Context, count int) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var match *Plan
	for _, p := range m.plans {
		if p.RequiredCouponCount != count {
			continue
		}
		if match == nil || p.CreatedAt.Before(match.CreatedAt) {
			match = p
		}
	}
	if match == nil {
		return nil, ErrPlanNotFound
	}
	cp := *match
	return &cp, nil
}

func (m *MemoryRepository) GetDefault(_ context.Context) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.plans {
		if p.IsDefault {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNoDefaultPlan
}

func (m *MemoryRepository) GrantsForCodename(_ context.Context, codename string) ([]CreditGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CreditGrant, 0)
	for _, g := range m.grants {
		if g.PlanCodename == codename {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreditType < out[j].CreditType })
	return out, nil
}

func (m *MemoryRepository) LoadAllGrants(_ context.Context) ([]CreditGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CreditGrant, len(m.grants))
	copy(out, m.grants)
	return out, nil
}
