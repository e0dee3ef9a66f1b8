package payment

import (
	"github.com/google/uuid"

	"github.com/launchbase/launchbase-api/internal/domain/credit"
)

// WebhookRequest is the normalized payload the provider adapters post. The
// provider itself comes from the URL.
type WebhookRequest struct {
	Kind       string                 `json:"kind" validate:"required,oneof=credit_purchase plan_change"`
	UserID     string                 `json:"user_id" validate:"required,uuid"`
	PaymentID  string                 `json:"payment_id" validate:"required,min=1,max=255"`
	CreditType string                 `json:"credit_type" validate:"required_if=Kind credit_purchase,omitempty,min=1,max=100"`
	Amount     int                    `json:"amount" validate:"required_if=Kind credit_purchase,omitempty,gt=0"`
	PlanID     string                 `json:"plan_id" validate:"required_if=Kind plan_change,omitempty,uuid"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// Event converts the request into the normalized internal event.
func (req WebhookRequest) Event(provider string) Event {
	userID, _ := uuid.Parse(req.UserID)
	planID, _ := uuid.Parse(req.PlanID)
	return Event{
		Provider:   provider,
		Kind:       EventKind(req.Kind),
		UserID:     userID,
		PaymentID:  req.PaymentID,
		CreditType: req.CreditType,
		Amount:     req.Amount,
		PlanID:     planID,
		Metadata:   credit.Metadata(req.Metadata),
	}
}
