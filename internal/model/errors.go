package model

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrInvalidSlot         = errors.New("invalid slot")
	ErrSlotRangeExceeded   = errors.New("slot range exceeded")
	ErrOutsideAvailability = errors.New("outside instructor availability")
	ErrSlotConflict        = errors.New("slot conflicts with an existing booking")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAlreadyRefunded     = errors.New("booking already refunded")
	ErrMethodMismatch      = errors.New("refund method does not match payment provenance")
	ErrNotFound            = errors.New("not found")
	ErrGatewayFailure      = errors.New("payment gateway failure")
)

// ValidationError describes malformed input. It matches ErrValidation via errors.Is.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	return e.Msg
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid создаёт ValidationError для поля
func Invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// GatewayError carries the gateway's own message.
type GatewayError struct {
	Op  string
	Msg string
	Err error
}

func (e *GatewayError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	}
	return "gateway " + e.Op + " failed"
}

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayFailure
}

func (e *GatewayError) Unwrap() error { return e.Err }
