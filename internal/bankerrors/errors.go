package bankerrors

import (
	"errors"
	"fmt"
)

// Business outcomes the ledger returns as values. Callers branch on these
// with errors.Is; they are expected results, not infrastructure failures.
var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrUserNotFound         = errors.New("user not found")
	ErrUnknownCommand       = errors.New("unknown command type")
	ErrUnknownFunction      = errors.New("unknown banking function")
)

// ValidationError reports a missing or malformed field, rejected before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// InfrastructureError wraps a datastore or queue failure. It aborts the
// operation and is logged with context at the boundary, never shown verbatim
// to a client.
type InfrastructureError struct {
	Operation string
	Cause     error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error during '%s': %v", e.Operation, e.Cause)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Cause
}

func NewInfrastructureError(operation string, cause error) error {
	return &InfrastructureError{Operation: operation, Cause: cause}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsInsufficientFunds(err error) bool {
	return errors.Is(err, ErrInsufficientFunds)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAccountAlreadyExists)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func IsInfrastructure(err error) bool {
	var infraErr *InfrastructureError
	return errors.As(err, &infraErr)
}
