package remote

import (
	"context"
	"errors"

	"github.com/KevoDB/flashkv/pkg/flash"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrRemote wraps failures that have no local flash error equivalent.
var ErrRemote = errors.New("remote device error")

// toStatus maps a device error to a gRPC status so the client can rebuild it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, flash.ErrOutOfRange):
		code = codes.OutOfRange
	case errors.Is(err, flash.ErrUnaligned):
		code = codes.InvalidArgument
	case errors.Is(err, flash.ErrNotErased):
		code = codes.FailedPrecondition
	case errors.Is(err, flash.ErrInjectedFault):
		code = codes.DataLoss
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// fromStatus turns a gRPC error back into an error that matches the flash
// sentinel errors under errors.Is.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var sentinel error
	switch st.Code() {
	case codes.OutOfRange:
		sentinel = flash.ErrOutOfRange
	case codes.InvalidArgument:
		sentinel = flash.ErrUnaligned
	case codes.FailedPrecondition:
		sentinel = flash.ErrNotErased
	case codes.DataLoss:
		sentinel = flash.ErrInjectedFault
	default:
		sentinel = ErrRemote
	}
	return &remoteError{sentinel: sentinel, status: st}
}

type remoteError struct {
	sentinel error
	status   *status.Status
}

func (e *remoteError) Error() string {
	return "remote: " + e.status.Message()
}

func (e *remoteError) Unwrap() error {
	return e.sentinel
}

// GRPCStatus lets status.FromError and status.Code see through the wrapper.
func (e *remoteError) GRPCStatus() *status.Status {
	return e.status
}

// retryable reports whether a failed call may succeed if repeated.
func retryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.Aborted:
		return true
	default:
		return false
	}
}
