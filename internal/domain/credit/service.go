package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// seenPaymentTTL bounds the advisory dedup cache. Providers redeliver
// within hours, not weeks.
const seenPaymentTTL = 48 * time.Hour

// Service owns the credit ledger: appends, the cached balance projection,
// recalculation, and the advisory deduct check.
type Service struct {
	repo  Repository
	cache *redis.Client
}

// NewService creates the credit service. cache may be nil; it is only a
// fast path for duplicate webhook deliveries. The storage-level unique
// constraint on payment_id is the actual idempotency guard.
func NewService(repo Repository, cache *redis.Client) *Service {
	return &Service{repo: repo, cache: cache}
}

// Append validates and appends one ledger entry, returning the full updated
// balance map for the user.
func (s *Service) Append(ctx context.Context, params AppendParams) (Balances, error) {
	if params.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !params.TransactionType.Valid() {
		return nil, ErrInvalidTransactionType
	}
	if params.CreditType == "" {
		return nil, fmt.Errorf("%w: empty credit type", ErrInvalidTransactionType)
	}

	if params.PaymentID != "" && s.seenPayment(ctx, params.PaymentID) {
		return nil, ErrDuplicatePayment
	}

	t := &Transaction{
		ID:              uuid.New(),
		UserID:          params.UserID,
		TransactionType: params.TransactionType,
		CreditType:      params.CreditType,
		Amount:          params.Amount,
		CreatedAt:       time.Now().UTC(),
	}
	if params.PaymentID != "" {
		t.PaymentID.String = params.PaymentID
		t.PaymentID.Valid = true
	}
	if params.ExpirationDate != nil {
		t.ExpirationDate.Time = *params.ExpirationDate
		t.ExpirationDate.Valid = true
	}
	if params.Metadata != nil {
		raw, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal metadata", ErrInternal)
		}
		t.MetadataRaw = raw
	}

	balances, err := s.repo.Append(ctx, t)
	if err != nil {
		return nil, err
	}

	if params.PaymentID != "" {
		s.markPaymentSeen(ctx, params.PaymentID)
	}

	if balances[params.CreditType] < 0 {
		log.Warn().
			Str("user_id", params.UserID.String()).
			Str("credit_type", params.CreditType).
			Int("balance", balances[params.CreditType]).
			Msg("Credit balance went negative")
	}

	return balances, nil
}

// AddCredits appends a credit entry keyed by paymentID for idempotency.
func (s *Service) AddCredits(ctx context.Context, userID uuid.UUID, creditType string, amount int, paymentID string, metadata Metadata, expiration *time.Time) (Balances, error) {
	return s.Append(ctx, AppendParams{
		UserID:          userID,
		CreditType:      creditType,
		TransactionType: TransactionTypeCredit,
		Amount:          amount,
		PaymentID:       paymentID,
		Metadata:        metadata,
		ExpirationDate:  expiration,
	})
}

// DeductCredits appends a debit entry. The ledger does not block on
// insufficient balance; CanDeduct is the advisory check for callers that
// want to gate a feature first.
func (s *Service) DeductCredits(ctx context.Context, userID uuid.UUID, creditType string, amount int, metadata Metadata) (Balances, error) {
	return s.Append(ctx, AppendParams{
		UserID:          userID,
		CreditType:      creditType,
		TransactionType: TransactionTypeDebit,
		Amount:          amount,
		Metadata:        metadata,
	})
}

// ExpireCredits appends an offsetting expired entry, keyed by the derived
// payment id so repeated sweeps are idempotent.
func (s *Service) ExpireCredits(ctx context.Context, userID uuid.UUID, creditType string, amount int, paymentID string, metadata Metadata) (Balances, error) {
	return s.Append(ctx, AppendParams{
		UserID:          userID,
		CreditType:      creditType,
		TransactionType: TransactionTypeExpired,
		Amount:          amount,
		PaymentID:       paymentID,
		Metadata:        metadata,
	})
}

// CanDeduct reports whether the cached balance covers the amount. Advisory:
// a concurrent deduct can still win the race, and the ledger tolerates the
// resulting negative balance.
func (s *Service) CanDeduct(ctx context.Context, userID uuid.UUID, creditType string, amount int) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	balances, err := s.repo.Balances(ctx, userID)
	if err != nil {
		return false, err
	}

	return balances[creditType] >= amount, nil
}

// Balances returns the cached balance map. A missing credit type means zero.
func (s *Service) Balances(ctx context.Context, userID uuid.UUID) (Balances, error) {
	return s.repo.Balances(ctx, userID)
}

// Recalculate replays the user's log and overwrites the cached projection.
// Safe at any time; the result must match the incrementally maintained
// value.
func (s *Service) Recalculate(ctx context.Context, userID uuid.UUID) (Balances, error) {
	return s.repo.Recalculate(ctx, userID)
}

// History returns the user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, p Pagination) ([]HistoryEntry, error) {
	transactions, err := s.repo.ListByUser(ctx, userID, p)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(transactions))
	for i := range transactions {
		entries = append(entries, HistoryEntryFromTransaction(&transactions[i]))
	}
	return entries, nil
}

func (s *Service) seenPayment(ctx context.Context, paymentID string) bool {
	if s.cache == nil {
		return false
	}

	n, err := s.cache.Exists(ctx, seenPaymentKey(paymentID)).Result()
	if err != nil {
		log.Debug().Err(err).Msg("Payment dedup cache check failed")
		return false
	}
	return n > 0
}

func (s *Service) markPaymentSeen(ctx context.Context, paymentID string) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Set(ctx, seenPaymentKey(paymentID), 1, seenPaymentTTL).Err(); err != nil {
		log.Debug().Err(err).Msg("Payment dedup cache set failed")
	}
}

func seenPaymentKey(paymentID string) string {
	return "credits:payment:" + paymentID
}
