package coupon

import "errors"

var (
	// ErrInvalidCoupon covers not-found, already-used and expired alike,
	// so the caller cannot probe which codes exist.
	ErrInvalidCoupon = errors.New("invalid coupon")

	ErrDuplicateCode = errors.New("coupon code already exists")

	ErrInternal = errors.New("internal error")
)
