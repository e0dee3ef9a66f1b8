package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/domain/plan"
	"github.com/launchbase/launchbase-api/internal/domain/user"
)

// Service applies normalized provider events to the ledger and the user's
// plan. Providers redeliver webhooks, so every path here has to be safe to
// repeat: duplicate payment ids are treated as already-done, not as
// failures.
type Service struct {
	credits   *credit.Service
	users     user.Repository
	allocator *plan.Allocator
}

func NewService(credits *credit.Service, users user.Repository, allocator *plan.Allocator) *Service {
	return &Service{credits: credits, users: users, allocator: allocator}
}

// Process dispatches a normalized event.
func (s *Service) Process(ctx context.Context, event Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	switch event.Kind {
	case KindCreditPurchase:
		return s.processPurchase(ctx, event)
	case KindPlanChange:
		return s.processPlanChange(ctx, event)
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, event.Kind)
	}
}

func (s *Service) processPurchase(ctx context.Context, event Event) error {
	metadata := credit.Metadata{
		"reason":   "Credit purchase",
		"provider": event.Provider,
	}
	for k, v := range event.Metadata {
		metadata[k] = v
	}

	_, err := s.credits.AddCredits(ctx, event.UserID, event.CreditType, event.Amount, event.PaymentID, metadata, nil)
	if errors.Is(err, credit.ErrDuplicatePayment) {
		log.Debug().
			Str("provider", event.Provider).
			Str("payment_id", event.PaymentID).
			Msg("purchase already applied, skipping")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("provider", event.Provider).
		Str("user_id", event.UserID.String()).
		Str("credit_type", event.CreditType).
		Int("amount", event.Amount).
		Str("payment_id", event.PaymentID).
		Msg("credit purchase applied")
	return nil
}

func (s *Service) processPlanChange(ctx context.Context, event Event) error {
	planID := event.PlanID
	if err := s.users.SetPlan(ctx, event.UserID, &planID); err != nil {
		return err
	}

	results, err := s.allocator.AllocatePlanCredits(ctx, plan.AllocateParams{
		UserID:    event.UserID,
		PlanID:    event.PlanID,
		PaymentID: event.PaymentID,
		Metadata:  event.Metadata,
	})
	if err != nil {
		return err
	}

	granted, skipped := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case plan.OutcomeGranted:
			granted++
		case plan.OutcomeSkipped:
			skipped++
		case plan.OutcomeError:
			log.Error().
				Err(r.Err).
				Str("user_id", event.UserID.String()).
				Str("credit_type", r.CreditType).
				Msg("plan credit grant failed")
		}
	}

	log.Info().
		Str("provider", event.Provider).
		Str("user_id", event.UserID.String()).
		Str("plan_id", event.PlanID.String()).
		Int("granted", granted).
		Int("skipped", skipped).
		Msg("plan change applied")
	return nil
}

func validateEvent(event Event) error {
	if !event.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidEvent, event.Kind)
	}
	if event.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}
	if event.PaymentID == "" {
		return fmt.Errorf("%w: missing payment id", ErrInvalidEvent)
	}
	switch event.Kind {
	case KindCreditPurchase:
		if event.CreditType == "" {
			return fmt.Errorf("%w: missing credit type", ErrInvalidEvent)
		}
		if event.Amount <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrInvalidEvent)
		}
	case KindPlanChange:
		if event.PlanID == uuid.Nil {
			return fmt.Errorf("%w: missing plan id", ErrInvalidEvent)
		}
	}
	return nil
}
