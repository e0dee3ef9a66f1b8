package credit

// GrantRequest for POST /admin/credits/grant
type GrantRequest struct {
	UserID        string `json:"user_id" validate:"required,uuid"`
	CreditType    string `json:"credit_type" validate:"required,min=1,max=100"`
	Amount        int    `json:"amount" validate:"required,gt=0"`
	PaymentID     string `json:"payment_id" validate:"omitempty,max=255"`
	Reason        string `json:"reason" validate:"omitempty,max=500"`
	ExpiresInDays int    `json:"expires_in_days" validate:"omitempty,gt=0,lte=3650"`
}

// DeductRequest for POST /admin/credits/deduct
type DeductRequest struct {
	UserID     string `json:"user_id" validate:"required,uuid"`
	CreditType string `json:"credit_type" validate:"required,min=1,max=100"`
	Amount     int    `json:"amount" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"omitempty,max=500"`
}

// BalanceResponse wraps the balance map
type BalanceResponse struct {
	Credits Balances `json:"credits"`
}

// PriceResponse for GET /credits/price
type PriceResponse struct {
	CreditType string `json:"credit_type"`
	Amount     int    `json:"amount"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

// CanDeductResponse for GET /credits/can-deduct
type CanDeductResponse struct {
	CanDeduct bool `json:"can_deduct"`
}
