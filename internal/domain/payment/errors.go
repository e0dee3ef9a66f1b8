package payment

import "errors"

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrInvalidEvent    = errors.New("invalid payment event")
	ErrInternal        = errors.New("internal error")
)
