package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrIncorrectPin           = errors.New("incorrect pin")
	ErrCredentialStoreFailure = errors.New("credential store failure")
	ErrCredentialNotFound     = errors.New("credential not found")
	ErrInvalidPin             = errors.New("invalid pin format")
	ErrTooManyAttempts        = errors.New("too many failed attempts")
	ErrAuthInProgress         = errors.New("authentication already in progress")
	ErrInvalidTransition      = errors.New("operation not allowed in current phase")
)

// BiometricErrorKind enumerates biometric failures reported by the device.
type BiometricErrorKind string

const (
	BiometricAuthenticationFailed BiometricErrorKind = "authentication_failed"
	BiometricNotAvailable         BiometricErrorKind = "not_available"
	BiometricNotEnrolled          BiometricErrorKind = "not_enrolled"
	BiometricLockout              BiometricErrorKind = "lockout"
	BiometricUnknown              BiometricErrorKind = "unknown"
)

// BiometricError is returned by the biometric collaborator.
type BiometricError struct {
	Kind BiometricErrorKind
}

func (e *BiometricError) Error() string { return "biometric: " + string(e.Kind) }

func (e *BiometricError) Is(target error) bool {
	t, ok := target.(*BiometricError)
	return ok && t.Kind == e.Kind
}

// NewBiometricError builds a BiometricError of kind k.
func NewBiometricError(k BiometricErrorKind) error { return &BiometricError{Kind: k} }

// TransitionError reports an operation attempted from the wrong phase.
func TransitionError(op string, from Phase) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, from)
}

// ErrorKind renders err as a stable string for clients.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var be *BiometricError
	if errors.As(err, &be) {
		return "biometric_" + string(be.Kind)
	}
	switch {
	case errors.Is(err, ErrIncorrectPin):
		return "incorrect_pin"
	case errors.Is(err, ErrTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrCredentialStoreFailure):
		return "credential_store_failure"
	case errors.Is(err, ErrInvalidPin):
		return "invalid_pin"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	}
	return "unknown"
}
