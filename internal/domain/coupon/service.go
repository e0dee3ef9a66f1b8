package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
	"github.com/launchbase/launchbase-api/internal/domain/plan"
	"github.com/launchbase/launchbase-api/internal/domain/user"
)

// RedeemResult is what a successful redemption yields: the claimed coupon,
// the plan the user ended up on and the number of redeemed, non-expired
// coupons after this one.
type RedeemResult struct {
	Coupon      *Coupon
	Plan        *plan.Plan
	CouponCount int
}

// ExpireReport summarizes a batch expiration.
type ExpireReport struct {
	TotalExpired    int      `json:"total_expired"`
	UsersDowngraded int      `json:"users_downgraded"`
	NotFound        []string `json:"not_found"`
	Errors          []string `json:"errors"`
}

// Service drives the coupon lifecycle and keeps each affected user's plan
// consistent with their redeemed coupon count.
type Service struct {
	coupons   Repository
	plans     plan.Repository
	users     user.Repository
	allocator *plan.Allocator
}

func NewService(coupons Repository, plans plan.Repository, users user.Repository, allocator *plan.Allocator) *Service {
	return &Service{
		coupons:   coupons,
		plans:     plans,
		users:     users,
		allocator: allocator,
	}
}

// NormalizeCode canonicalizes a coupon code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Redeem claims the coupon for the user and reconciles the user's plan
// against their new coupon count. Any failure shape on the coupon itself
// comes back as ErrInvalidCoupon.
func (s *Service) Redeem(ctx context.Context, userID uuid.UUID, code string) (*RedeemResult, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, ErrInvalidCoupon
	}

	c, err := s.coupons.Redeem(ctx, normalized, userID)
	if err != nil {
		return nil, err
	}

	p, count, err := s.ReconcilePlan(ctx, userID)
	if err != nil {
		// The coupon is already claimed; surface the reconcile failure
		// rather than pretending the redemption did not happen.
		return nil, err
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("code", normalized).
		Int("coupon_count", count).
		Str("plan", p.Name).
		Msg("coupon redeemed")

	return &RedeemResult{Coupon: c, Plan: p, CouponCount: count}, nil
}

// Create registers a new coupon code.
func (s *Service) Create(ctx context.Context, code string) (*Coupon, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty coupon code", ErrInternal)
	}

	c := &Coupon{
		ID:        uuid.New(),
		Code:      normalized,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.coupons.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ReconcilePlan recomputes the user's plan from their redeemed, non-expired
// coupon count and applies it. A count with no configured plan, or a count
// of zero, falls back to the default plan. Landing on an LTD plan clears
// any recurring-billing identifiers, and the plan's credit grants are
// allocated under a payment id derived from the coupon count, so repeating
// the reconcile for the same count never double-grants.
func (s *Service) ReconcilePlan(ctx context.Context, userID uuid.UUID) (*plan.Plan, int, error) {
	count, err := s.coupons.CountRedeemed(ctx, userID)
	if err != nil {
		return nil, 0, err
	}

	var p *plan.Plan
	if count > 0 {
		p, err = s.plans.GetByCouponCount(ctx, count)
		if errors.Is(err, plan.ErrPlanNotFound) {
			log.Warn().
				Str("user_id", userID.String()).
				Int("coupon_count", count).
				Msg("no plan configured for coupon count, falling back to default")
			p, err = s.plans.GetDefault(ctx)
		}
	} else {
		p, err = s.plans.GetDefault(ctx)
	}
	if err != nil {
		return nil, 0, err
	}

	if err := s.users.SetPlanAndClearBilling(ctx, userID, &p.ID); err != nil {
		return nil, 0, err
	}

	paymentID := fmt.Sprintf("ltd_%s_%s_%d", userID, p.ID, count)
	results, err := s.allocator.AllocatePlanCredits(ctx, plan.AllocateParams{
		UserID:    userID,
		PlanID:    p.ID,
		PaymentID: paymentID,
		Metadata:  credit.Metadata{"reason": "ltd_reconcile", "coupon_count": count},
	})
	if err != nil {
		return nil, 0, err
	}
	for _, r := range results {
		if r.Outcome == plan.OutcomeError {
			log.Error().
				Err(r.Err).
				Str("user_id", userID.String()).
				Str("credit_type", r.CreditType).
				Msg("ltd credit grant failed")
		}
	}

	return p, count, nil
}

// ExpireBatch marks the given codes expired and reconciles the plan of
// every user who had redeemed one of them. Per-user reconcile failures are
// collected into the report instead of aborting the batch.
func (s *Service) ExpireBatch(ctx context.Context, codes []string) (*ExpireReport, error) {
	normalized := make([]string, 0, len(codes))
	for _, code := range codes {
		if c := NormalizeCode(code); c != "" {
			normalized = append(normalized, c)
		}
	}

	report := &ExpireReport{NotFound: []string{}, Errors: []string{}}

	active, err := s.coupons.FindActiveByCodes(ctx, normalized)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool, len(active))
	affected := make(map[uuid.UUID]bool)
	for _, c := range active {
		found[c.Code] = true
		if c.UserID.Valid && c.UsedAt.Valid {
			affected[c.UserID.UUID] = true
		}
	}
	for _, code := range normalized {
		if !found[code] {
			report.NotFound = append(report.NotFound, code)
		}
	}

	if len(active) > 0 {
		expire := make([]string, 0, len(active))
		for _, c := range active {
			expire = append(expire, c.Code)
		}
		if err := s.coupons.ExpireByCodes(ctx, expire); err != nil {
			return nil, err
		}
		report.TotalExpired = len(expire)
	}

	for userID := range affected {
		if _, _, err := s.ReconcilePlan(ctx, userID); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("user %s: %v", userID, err))
			continue
		}
		report.UsersDowngraded++
	}

	log.Info().
		Int("total_expired", report.TotalExpired).
		Int("users_downgraded", report.UsersDowngraded).
		Int("not_found", len(report.NotFound)).
		Int("errors", len(report.Errors)).
		Msg("coupon batch expiration complete")

	return report, nil
}
