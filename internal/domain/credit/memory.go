package credit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository for tests and local
// development. It enforces the same semantics as the Postgres
// implementation: the payment-id check and the insert happen under one
// lock, so a concurrent duplicate delivery cannot double-insert.
type MemoryRepository struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]bool
	transactions []Transaction
	payments     map[string]bool
	balances     map[uuid.UUID]Balances
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[uuid.UUID]bool),
		payments: make(map[string]bool),
		balances: make(map[uuid.UUID]Balances),
	}
}

// AddUser registers a user id so appends against it pass the existence
// check (stands in for the foreign key).
func (m *MemoryRepository) AddUser(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = true
}

func (m *MemoryRepository) Append(_ context.Context, t *Transaction) (Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.users[t.UserID] {
		return nil, ErrUserNotFound
	}
	if t.PaymentID.Valid {
		if m.payments[t.PaymentID.String] {
			return nil, ErrDuplicatePayment
		}
		m.payments[t.PaymentID.String] = true
	}

	m.transactions = append(m.transactions, *t)

	balances := m.balances[t.UserID]
	if balances == nil {
		balances = make(Balances)
		m.balances[t.UserID] = balances
	}
	balances[t.CreditType] += t.TransactionType.Delta(t.Amount)

	return balances.Clone(), nil
}

func (m *MemoryRepository) Balances(_ context.Context, userID uuid.UUID) (Balances, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := m.balances[userID]
	if balances == nil {
		return make(Balances), nil
	}
	return balances.Clone(), nil
}

func (m *MemoryRepository) Recalculate(_ context.Context, userID uuid.UUID) (Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var owned []Transaction
	for i := range m.transactions {
		if m.transactions[i].UserID == userID {
			owned = append(owned, m.transactions[i])
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.Before(owned[j].CreatedAt)
	})

	balances := Replay(owned)
	m.balances[userID] = balances.Clone()

	return balances, nil
}

func (m *MemoryRepository) ListByUser(_ context.Context, userID uuid.UUID, p Pagination) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	var owned []Transaction
	for i := range m.transactions {
		if m.transactions[i].UserID == userID {
			owned = append(owned, m.transactions[i])
		}
	}
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	if p.Offset >= len(owned) {
		return []Transaction{}, nil
	}
	end := p.Offset + limit
	if end > len(owned) {
		end = len(owned)
	}
	return owned[p.Offset:end], nil
}

func (m *MemoryRepository) HasPayment(_ context.Context, paymentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.payments[paymentID], nil
}

func (m *MemoryRepository) CountExpiring(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for i := range m.transactions {
		if isExpiring(&m.transactions[i], cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) ListExpiring(_ context.Context, cutoff time.Time, limit, offset int) ([]Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var eligible []Transaction
	for i := range m.transactions {
		if isExpiring(&m.transactions[i], cutoff) {
			eligible = append(eligible, m.transactions[i])
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	if offset >= len(eligible) {
		return []Transaction{}, nil
	}
	end := offset + limit
	if end > len(eligible) {
		end = len(eligible)
	}
	return eligible[offset:end], nil
}

// TransactionCount reports the number of ledger rows. Test helper.
func (m *MemoryRepository) TransactionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transactions)
}

func isExpiring(t *Transaction, cutoff time.Time) bool {
	return t.TransactionType == TransactionTypeCredit &&
		t.ExpirationDate.Valid &&
		!t.ExpirationDate.Time.After(cutoff)
}
