package model

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrDuplicateEmail     = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid verification token")
	ErrNotFound           = errors.New("not found")
	ErrExpired            = errors.New("session expired")
	ErrInvalidSession     = errors.New("invalid session")
	ErrCannotDeleteSelf   = errors.New("cannot delete own account")
	ErrStorageFailure     = errors.New("storage failure")
	ErrDispatchFailure    = errors.New("email dispatch failed")
	ErrInvalidKey         = errors.New("license key invalid or already used")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrInvalidInput       = errors.New("invalid input")
)

// Both satisfy errors.Is(err, ErrInvalidToken), so callers that only care
// about "verification failed" can ignore the distinction.
var (
	ErrAlreadyVerified     = fmt.Errorf("%w: email already verified", ErrInvalidToken)
	ErrVerificationExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)
)

// Storage wraps an underlying persistence error so that it matches
// ErrStorageFailure while keeping the cause in the chain.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}
