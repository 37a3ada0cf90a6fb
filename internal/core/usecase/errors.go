package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/evident/internal/core/domain"
)

// collaboratorFailure converts an external call error into ErrPipelineUnavailable.
// Cancellation, input and dimension errors keep their own kind.
func collaboratorFailure(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) ||
		domain.IsKind(err, domain.ErrInvalidInput) ||
		domain.IsKind(err, domain.ErrDimensionMismatch) ||
		domain.IsKind(err, domain.ErrPipelineUnavailable) {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return domain.WrapError(domain.ErrPipelineUnavailable, operation, err)
}

func withStageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
