package server

import (
	"DexLedger/internal/dexerr"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeFor maps an error kind to a gRPC code
func codeFor(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	switch dexerr.Kind(err) {
	case "Unauthorized":
		return codes.PermissionDenied
	case "NotAStaker", "NotFound":
		return codes.NotFound
	case "InvalidAmount", "InvalidInput":
		return codes.InvalidArgument
	case "ArithmeticOverflow", "ArithmeticUnderflow":
		return codes.FailedPrecondition
	case "Conflict":
		return codes.AlreadyExists
	case "CorruptRecord":
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// toStatus converts a domain error into a gRPC status error. The message
// keeps the kind so clients can branch on it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Errorf(codeFor(err), "%s: %v", dexerr.Kind(err), err)
}
