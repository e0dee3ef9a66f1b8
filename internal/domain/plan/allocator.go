package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
)

// GrantOutcome classifies one credit type's allocation result.
type GrantOutcome string

const (
	OutcomeGranted GrantOutcome = "granted"
	// OutcomeSkipped means the grant was already applied (duplicate
	// payment id). Success-equivalent.
	OutcomeSkipped GrantOutcome = "skipped"
	OutcomeError   GrantOutcome = "error"
)

// GrantResult is the per-credit-type outcome of an allocation.
type GrantResult struct {
	CreditType string       `json:"credit_type"`
	Amount     int          `json:"amount"`
	Outcome    GrantOutcome `json:"outcome"`
	Err        error        `json:"-"`
}

// AllocateParams describes a plan-change event to allocate credits for.
type AllocateParams struct {
	UserID    uuid.UUID
	PlanID    uuid.UUID
	PaymentID string
	Metadata  credit.Metadata
}

// Allocator translates a plan's allocation rules into ledger entries on
// plan change. Re-entrant: each credit type carries its own derived payment
// id, so redelivered events only fill in whatever is missing.
type Allocator struct {
	plans          Repository
	credits        *credit.Service
	registerGrants []CreditGrant
	enabled        bool
}

// NewAllocator creates the allocator. registerGrants are the default
// grants applied when a user is first provisioned; may be empty.
func NewAllocator(plans Repository, credits *credit.Service, registerGrants []CreditGrant, enabled bool) *Allocator {
	return &Allocator{
		plans:          plans,
		credits:        credits,
		registerGrants: registerGrants,
		enabled:        enabled,
	}
}

// DerivedPaymentID composes the per-credit-type idempotency key for a
// plan-change payment event.
func DerivedPaymentID(paymentID, creditType string) string {
	return paymentID + "_" + creditType
}

// AllocatePlanCredits grants the plan's configured credits to the user.
// A plan without a codename or without rules is a no-op. Per-grant failures
// never abort the remaining grants.
func (a *Allocator) AllocatePlanCredits(ctx context.Context, params AllocateParams) ([]GrantResult, error) {
	if !a.enabled {
		return nil, nil
	}

	p, err := a.plans.GetByID(ctx, params.PlanID)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			log.Info().
				Str("plan_id", params.PlanID.String()).
				Msg("Plan not found, skipping credit allocation")
			return nil, nil
		}
		return nil, err
	}

	if !p.Codename.Valid || p.Codename.String == "" {
		log.Info().
			Str("plan_id", params.PlanID.String()).
			Msg("Plan has no codename, skipping credit allocation")
		return nil, nil
	}

	grants, err := a.plans.GrantsForCodename(ctx, p.Codename.String)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		log.Debug().
			Str("plan_codename", p.Codename.String).
			Msg("No credit grants configured for plan")
		return nil, nil
	}

	results := make([]GrantResult, 0, len(grants))
	for _, grant := range grants {
		result := a.applyGrant(ctx, params, p, grant)
		results = append(results, result)
	}

	log.Info().
		Str("user_id", params.UserID.String()).
		Str("plan_codename", p.Codename.String).
		Int("grants", len(results)).
		Msg("Completed plan credit allocation")

	return results, nil
}

func (a *Allocator) applyGrant(ctx context.Context, params AllocateParams, p *Plan, grant CreditGrant) GrantResult {
	result := GrantResult{CreditType: grant.CreditType, Amount: grant.Amount}

	metadata := credit.Metadata{
		"reason":        fmt.Sprintf("Plan upgrade to %s", p.Name),
		"plan_id":       p.ID.String(),
		"plan_codename": grant.PlanCodename,
		"plan_name":     p.Name,
	}
	var expiration *time.Time
	if grant.ExpiryAfterDays.Valid {
		metadata["expiry_after_days"] = grant.ExpiryAfterDays.Int64
		exp := time.Now().UTC().AddDate(0, 0, int(grant.ExpiryAfterDays.Int64))
		expiration = &exp
	}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	derivedID := DerivedPaymentID(params.PaymentID, grant.CreditType)

	_, err := a.credits.AddCredits(ctx, params.UserID, grant.CreditType, grant.Amount, derivedID, metadata, expiration)
	switch {
	case err == nil:
		result.Outcome = OutcomeGranted
		log.Info().
			Str("user_id", params.UserID.String()).
			Str("credit_type", grant.CreditType).
			Int("amount", grant.Amount).
			Msg("Allocated plan credits")
	case errors.Is(err, credit.ErrDuplicatePayment):
		// Already applied by a previous delivery of this event.
		result.Outcome = OutcomeSkipped
		log.Debug().
			Str("user_id", params.UserID.String()).
			Str("credit_type", grant.CreditType).
			Msg("Plan credits already allocated")
	default:
		result.Outcome = OutcomeError
		result.Err = err
		log.Error().Err(err).
			Str("user_id", params.UserID.String()).
			Str("credit_type", grant.CreditType).
			Msg("Failed to allocate plan credits")
	}

	return result
}

// AllocateRegistrationCredits applies the configured sign-up grants to a
// newly provisioned user. Keyed per user and credit type, so retries of the
// provisioning flow are harmless.
func (a *Allocator) AllocateRegistrationCredits(ctx context.Context, userID uuid.UUID) []GrantResult {
	if !a.enabled || len(a.registerGrants) == 0 {
		return nil
	}

	results := make([]GrantResult, 0, len(a.registerGrants))
	for _, grant := range a.registerGrants {
		result := GrantResult{CreditType: grant.CreditType, Amount: grant.Amount}

		metadata := credit.Metadata{"reason": "Sign-up credits"}
		var expiration *time.Time
		if grant.ExpiryAfterDays.Valid {
			exp := time.Now().UTC().AddDate(0, 0, int(grant.ExpiryAfterDays.Int64))
			expiration = &exp
		}

		derivedID := fmt.Sprintf("register_%s_%s", userID, grant.CreditType)

		_, err := a.credits.AddCredits(ctx, userID, grant.CreditType, grant.Amount, derivedID, metadata, expiration)
		switch {
		case err == nil:
			result.Outcome = OutcomeGranted
		case errors.Is(err, credit.ErrDuplicatePayment):
			result.Outcome = OutcomeSkipped
		default:
			result.Outcome = OutcomeError
			result.Err = err
			log.Error().Err(err).
				Str("user_id", userID.String()).
				Str("credit_type", grant.CreditType).
				Msg("Failed to allocate registration credits")
		}

		results = append(results, result)
	}

	return results
}
