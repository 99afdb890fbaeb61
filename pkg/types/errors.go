package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyContent      = errors.New("content cannot be empty")
	ErrEmptyName         = errors.New("chunk name cannot be empty")
	ErrInvalidLineNumber = errors.New("line numbers must be positive")
	ErrInvalidLineRange  = errors.New("start line must be before or equal to end line")
)
