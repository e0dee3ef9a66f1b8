package plan

import "errors"

var (
	ErrPlanNotFound  = errors.New("plan not found")
	ErrNoDefaultPlan = errors.New("no default plan configured")
	ErrInvalidGrant  = errors.New("invalid credit grant configuration")
	ErrInternal      = errors.New("internal error")
)
