package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/evident/internal/core/domain"
)

// statusClientClosedRequest marks queries whose caller went away before a decision.
const statusClientClosedRequest = 499

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrForbidden):
		return http.StatusForbidden
	case domain.IsKind(err, domain.ErrAuditNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case domain.IsKind(err, domain.ErrPipelineUnavailable),
		domain.IsKind(err, domain.ErrTemporary),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides internal details of server-side failures.
func publicErrorMessage(status int, err error) string {
	switch status {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "evidence pipeline unavailable"
	case statusClientClosedRequest:
		return "request cancelled"
	default:
		return err.Error()
	}
}
