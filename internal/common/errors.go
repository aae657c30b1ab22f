// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound      = errors.New("not found")
	ErrOwnerNotFound = errors.New("owner not found")

	// Receipt understanding errors.
	ErrNoTextDetected = errors.New("no text detected")
	ErrNoAmountFound  = errors.New("no amount found")

	// Rate provider errors.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// UserMessage extracts the user-facing message from an error chain,
// falling back to a generic apology when the error is internal.
func UserMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage
	}
	switch {
	case errors.Is(err, ErrNoAmountFound), errors.Is(err, ErrNoTextDetected):
		return "could not read an amount, please enter it manually"
	case errors.Is(err, ErrOwnerNotFound):
		return "something went wrong with your account, please try again"
	default:
		return "something went wrong, please try again"
	}
}
