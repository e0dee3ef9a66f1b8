package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// User represents a user account. Identity and sessions are owned by an
// external auth subsystem; this service only reads the row and moves the
// plan pointer.
type User struct {
	ID     uuid.UUID     `db:"id"`
	Email  string        `db:"email"`
	PlanID uuid.NullUUID `db:"plan_id"`

	// Recurring-billing identifiers per provider. Cleared when the user
	// moves to a coupon-derived (LTD) plan.
	StripeCustomerID           sql.NullString `db:"stripe_customer_id"`
	StripeSubscriptionID       sql.NullString `db:"stripe_subscription_id"`
	PaypalSubscriptionID       sql.NullString `db:"paypal_subscription_id"`
	DodoSubscriptionID         sql.NullString `db:"dodo_subscription_id"`
	LemonSqueezyCustomerID     sql.NullString `db:"lemonsqueezy_customer_id"`
	LemonSqueezySubscriptionID sql.NullString `db:"lemonsqueezy_subscription_id"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
