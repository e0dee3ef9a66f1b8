package credit

import "errors"

var (
	// ErrInvalidAmount is returned when amount is <= 0
	ErrInvalidAmount = errors.New("invalid amount: must be greater than 0")

	// ErrInvalidTransactionType is returned for an unknown transaction type
	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrDuplicatePayment is returned when a transaction with the same
	// payment id already exists. Callers must treat this as "already
	// applied", not as a failure.
	ErrDuplicatePayment = errors.New("duplicate payment id")

	// ErrUserNotFound is returned when the user doesn't exist
	ErrUserNotFound = errors.New("user not found")

	// ErrInsufficientCredits is for callers that gate a feature on
	// CanDeduct. The ledger itself never returns it; deducts are allowed
	// to drive a balance negative.
	ErrInsufficientCredits = errors.New("insufficient credits")

	ErrInternal = errors.New("internal error")
)
