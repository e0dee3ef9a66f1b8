package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and local
// development.
type MemoryRepository struct {
	mu      sync.Mutex
	coupons map[string]*Coupon // keyed by code
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{coupons: make(map[string]*Coupon)}
}

func (m *MemoryRepository) Create(_ context.Context, c *Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.coupons[c.Code]; exists {
		return ErrDuplicateCode
	}
	cp := *c
	m.coupons[c.Code] = &cp
	return nil
}

func (m *MemoryRepository) Redeem(_ context.Context, code string, userID uuid.UUID) (*Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[code]
	if !ok || c.UsedAt.Valid || c.Expired {
		return nil, ErrInvalidCoupon
	}

	c.UserID = uuid.NullUUID{UUID: userID, Valid: true}
	c.UsedAt.Time = time.Now()
	c.UsedAt.Valid = true

	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) CountRedeemed(_ context.Context, userID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, c := range m.coupons {
		if c.UserID.Valid && c.UserID.UUID == userID && c.UsedAt.Valid && !c.Expired {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) FindActiveByCodes(_ context.Context, codes []string) ([]Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Coupon, 0)
	for _, code := range codes {
		if c, ok := m.coupons[code]; ok && !c.Expired {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ExpireByCodes(_ context.Context, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, code := range codes {
		if c, ok := m.coupons[code]; ok {
			c.Expired = true
		}
	}
	return nil
}
