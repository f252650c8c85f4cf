package core

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidKind        = errors.New("invalid transaction type")
	ErrInvalidDate        = errors.New("invalid date")

	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("already exists")
	ErrMissingOwner = errors.New("missing owner")
)

// AuthErrorKind classifies identity failures.
type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthInvalidToken       AuthErrorKind = "invalid_token"
	AuthExpired            AuthErrorKind = "expired"
	AuthRevoked            AuthErrorKind = "revoked"
	AuthConflict           AuthErrorKind = "conflict"
	AuthInvalidInput       AuthErrorKind = "invalid_input"
	AuthMissing            AuthErrorKind = "missing"
)

// AuthError is returned by the identity provider.
type AuthError struct {
	Kind AuthErrorKind
	Msg  string
	Err  error
}

func (e *AuthError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", msg, e.Err)
	}
	return "auth: " + msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError without a cause.
func NewAuthError(kind AuthErrorKind, msg string) *AuthError {
	return &AuthError{Kind: kind, Msg: msg}
}

// StoreError wraps any failure of the transaction or user store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// WrapStore tags err as a StoreError for op. A nil err stays nil and an
// existing StoreError is not wrapped twice.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidation reports whether err comes from input validation.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrEmptyDescription, ErrDescriptionTooLong, ErrEmptyCategory,
		ErrInvalidAmount, ErrInvalidKind, ErrInvalidDate,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
