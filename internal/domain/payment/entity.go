package payment

import (
	"github.com/google/uuid"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
)

// EventKind is the normalized category of a provider webhook event.
type EventKind string

const (
	// KindCreditPurchase is a one-off credit pack purchase.
	KindCreditPurchase EventKind = "credit_purchase"
	// KindPlanChange is a subscription created, upgraded or downgraded.
	KindPlanChange EventKind = "plan_change"
)

func (k EventKind) Valid() bool {
	return k == KindCreditPurchase || k == KindPlanChange
}

// Event is the provider-agnostic shape every webhook adapter normalizes
// into. The payment id is the provider's transaction or invoice id and is
// the idempotency key for the whole event.
type Event struct {
	Provider   string
	Kind       EventKind
	UserID     uuid.UUID
	PaymentID  string
	CreditType string          // credit_purchase only
	Amount     int             // credit_purchase only
	PlanID     uuid.UUID       // plan_change only
	Metadata   credit.Metadata // carried into the ledger entry
}
