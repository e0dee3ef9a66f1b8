package coupon

// RedeemRequest is the payload for redeeming an LTD coupon code.
type RedeemRequest struct {
	Code string `json:"code" validate:"required,min=1,max=64"`
}

// RedeemResponse reports the outcome of a successful redemption.
type RedeemResponse struct {
	Code        string `json:"code"`
	PlanName    string `json:"plan_name"`
	CouponCount int    `json:"coupon_count"`
}

// CreateRequest is the admin payload for registering a coupon code.
type CreateRequest struct {
	Code string `json:"code" validate:"required,min=1,max=64"`
}

// CreateResponse echoes the stored coupon.
type CreateResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// ExpireBatchRequest is the admin payload for expiring coupon codes.
type ExpireBatchRequest struct {
	Codes []string `json:"codes" validate:"required,min=1,max=500,dive,min=1,max=64"`
}
