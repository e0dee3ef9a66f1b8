package plan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const queryTimeout = 3 * time.Second

// Repository provides plan and allocation-rule storage.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Plan, error)
	// GetByCouponCount returns the oldest plan whose required coupon
	// count equals count, or ErrPlanNotFound.
	GetByCouponCount(ctx context.Context, count int) (*Plan, error)
	// GetDefault returns the designated fallback plan.
	GetDefault(ctx context.Context) (*Plan, error)
	// GrantsForCodename returns the allocation rules for a plan codename.
	// An empty slice means the plan grants no credits.
	GrantsForCodename(ctx context.Context, codename string) ([]CreditGrant, error)
	// LoadAllGrants returns every configured rule, for load-time
	// validation.
	LoadAllGrants(ctx context.Context) ([]CreditGrant, error)
}

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Plan, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Plan
	err := r.db.GetContext(ctx2, &p, `SELECT * FROM plans WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("%w: get plan: %v", ErrInternal, err)
	}

	return &p, nil
}

func (r *PostgresRepository) GetByCouponCount(ctx context.Context, count int) (*Plan, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Plan
	err := r.db.GetContext(ctx2, &p, `
		SELECT * FROM plans
		WHERE required_coupon_count = $1
		ORDER BY created_at
		LIMIT 1
	`, count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("%w: get plan by coupon count: %v", ErrInternal, err)
	}

	return &p, nil
}

func (r *PostgresRepository) GetDefault(ctx context.Context) (*Plan, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var p Plan
	err := r.db.GetContext(ctx2, &p, `SELECT * FROM plans WHERE is_default LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoDefaultPlan
		}
		return nil, fmt.Errorf("%w: get default plan: %v", ErrInternal, err)
	}

	return &p, nil
}

func (r *PostgresRepository) GrantsForCodename(ctx context.Context, codename string) ([]CreditGrant, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	grants := make([]CreditGrant, 0)
	err := r.db.SelectContext(ctx2, &grants, `
		SELECT * FROM plan_credit_grants
		WHERE plan_codename = $1
		ORDER BY credit_type
	`, codename)
	if err != nil {
		return nil, fmt.Errorf("%w: load grants: %v", ErrInternal, err)
	}

	return grants, nil
}

func (r *PostgresRepository) LoadAllGrants(ctx context.Context) ([]CreditGrant, error) {
	ctx2, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	grants := make([]CreditGrant, 0)
	err := r.db.SelectContext(ctx2, &grants, `
		SELECT * FROM plan_credit_grants ORDER BY plan_codename, credit_type
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: load all grants: %v", ErrInternal, err)
	}

	return grants, nil
}

// ValidateGrants checks allocation rules at startup so a bad row fails the
// boot instead of a webhook.
func ValidateGrants(grants []CreditGrant) error {
	seen := make(map[string]bool, len(grants))
	for _, g := range grants {
		if g.PlanCodename == "" || g.CreditType == "" {
			return fmt.Errorf("%w: empty plan codename or credit type", ErrInvalidGrant)
		}
		if g.Amount <= 0 {
			return fmt.Errorf("%w: non-positive amount for %s/%s", ErrInvalidGrant, g.PlanCodename, g.CreditType)
		}
		if g.ExpiryAfterDays.Valid && g.ExpiryAfterDays.Int64 <= 0 {
			return fmt.Errorf("%w: non-positive expiry for %s/%s", ErrInvalidGrant, g.PlanCodename, g.CreditType)
		}
		key := g.PlanCodename + "/" + g.CreditType
		if seen[key] {
			return fmt.Errorf("%w: duplicate rule %s", ErrInvalidGrant, key)
		}
		seen[key] = true
	}
	return nil
}
