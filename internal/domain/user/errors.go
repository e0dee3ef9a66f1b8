package user

import "errors"

var (
	ErrNotFound = errors.New("user not found")
	ErrInternal = errors.New("internal error")
)
