package server

import (
	"context"
	"errors"

	"CollateralLedger/internal/core"
	"CollateralLedger/internal/errs"
	"CollateralLedger/internal/ingestion"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GRPCCode maps an engine or query error onto a gRPC status code.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Code()
	}
	if errors.Is(err, ingestion.ErrUnknownCommand) {
		return codes.NotFound
	}
	if errors.Is(err, ingestion.ErrMalformed) {
		return codes.InvalidArgument
	}
	if errors.Is(err, errs.ErrDuplicateCall) {
		return codes.AlreadyExists
	}
	if errors.Is(err, core.ErrInvariantViolated) {
		return codes.Internal
	}

	switch errs.ClassOf(err) {
	case errs.ClassAuthorization:
		return codes.PermissionDenied
	case errs.ClassNotFound:
		return codes.NotFound
	case errs.ClassState, errs.ClassSolvency:
		return codes.FailedPrecondition
	case errs.ClassArithmetic:
		return codes.OutOfRange
	case errs.ClassValidation:
		return codes.InvalidArgument
	case errs.ClassUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus maps err to the HTTP status the gateway would use for its
// gRPC code.
func HTTPStatus(err error) int {
	return runtime.HTTPStatusFromCode(GRPCCode(err))
}

// StatusError converts err to a gRPC status error.
func StatusError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(GRPCCode(err), err.Error())
}
