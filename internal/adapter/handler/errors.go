package handler

import (
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-reservation/internal/core/domain"
)

// grpcError maps the domain error taxonomy to a gRPC status.
func grpcError(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrOrderInFlight):
		code = codes.Aborted
	case errors.Is(err, domain.ErrDuplicateOrder), errors.Is(err, domain.ErrOrderVoided):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrStorageUnavailable):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrItemNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateOrder), errors.Is(err, domain.ErrOrderVoided):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// outcomeStatus is the HTTP status for a protocol outcome.
func outcomeStatus(out domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeCommitted:
		return http.StatusOK
	case domain.OutcomeInProgress:
		return http.StatusAccepted
	case domain.OutcomeCompensated:
		return http.StatusInternalServerError
	}
	switch out.Reason {
	case domain.ReasonUnknownItem:
		return http.StatusNotFound
	case domain.ReasonInsufficientStock:
		return http.StatusGone
	default:
		return http.StatusServiceUnavailable
	}
}
