package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrTemporary           = errors.New("temporary failure")
	ErrPipelineUnavailable = errors.New("pipeline unavailable")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrAuditNotFound       = errors.New("audit record not found")

	// Input errors. Both also match ErrInvalidInput.
	ErrInvalidQuery     = fmt.Errorf("%w: query", ErrInvalidInput)
	ErrInvalidPrincipal = fmt.Errorf("%w: principal scope", ErrInvalidInput)
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
