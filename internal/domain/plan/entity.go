package plan

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Plan represents a subscription plan. Pricing identifiers per provider
// live on the row; credit allocation rules live in plan_credit_grants,
// keyed by codename.
type Plan struct {
	ID        uuid.UUID      `db:"id"`
	Name      string         `db:"name"`
	Codename  sql.NullString `db:"codename"`
	IsDefault bool           `db:"is_default"`

	// LTD plans: number of redeemed coupons required to hold the plan.
	RequiredCouponCount int `db:"required_coupon_count"`

	MonthlyPrice sql.NullInt64 `db:"monthly_price"`
	YearlyPrice  sql.NullInt64 `db:"yearly_price"`
	OnetimePrice sql.NullInt64 `db:"onetime_price"`

	CreatedAt time.Time `db:"created_at"`
}

// DefaultRegisterGrants are the sign-up credits every newly provisioned
// user receives.
func DefaultRegisterGrants() []CreditGrant {
	return []CreditGrant{
		{
			CreditType:      "image_generation",
			Amount:          50,
			ExpiryAfterDays: sql.NullInt64{Int64: 30, Valid: true},
		},
	}
}

// CreditGrant is one allocation rule: on a change to a plan with this
// codename, grant Amount credits of CreditType, expiring ExpiryAfterDays
// after the grant when set.
type CreditGrant struct {
	PlanCodename    string        `db:"plan_codename"`
	CreditType      string        `db:"credit_type"`
	Amount          int           `db:"amount"`
	ExpiryAfterDays sql.NullInt64 `db:"expiry_after_days"`
}
