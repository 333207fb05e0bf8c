package api

import (
	"context"
	"errors"

	"github.com/cuemby/ftb/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ErrorKindKey is the trailer carrying the backplane error kind
const ErrorKindKey = "ftb-error"

var kindCodes = map[error]codes.Code{
	types.ErrInvalidClientInfo:    codes.InvalidArgument,
	types.ErrClientNotConnected:   codes.FailedPrecondition,
	types.ErrEventNotDeclared:     codes.FailedPrecondition,
	types.ErrDuplicateEventName:   codes.AlreadyExists,
	types.ErrInvalidFilterSyntax:  codes.InvalidArgument,
	types.ErrQueueOverflow:        codes.ResourceExhausted,
	types.ErrSubscriptionNotFound: codes.NotFound,
	types.ErrInvalidEventInfo:     codes.InvalidArgument,
	types.ErrPayloadTooLarge:      codes.InvalidArgument,
	types.ErrNoEvent:              codes.NotFound,
	types.ErrInvalidCallback:      codes.InvalidArgument,
	types.ErrInternal:             codes.Internal,
}

// Code returns the gRPC code for a backplane error
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	kind := types.KindError(types.ErrorKind(err))
	if code, ok := kindCodes[kind]; ok {
		return code
	}
	if errors.Is(err, context.Canceled) {
		return codes.Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return codes.DeadlineExceeded
	}
	return codes.Unknown
}

// toStatus converts err into a gRPC status error and records its kind in
// the trailer of the current call.
func toStatus(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if kind := types.ErrorKind(err); kind != "" {
		_ = grpc.SetTrailer(ctx, kindTrailer(kind))
	}
	return statusError(err)
}

func statusError(err error) error {
	return status.Error(Code(err), err.Error())
}

func kindTrailer(kind string) metadata.MD {
	return metadata.Pairs(ErrorKindKey, kind)
}

// RemoteError is a backplane error received over the wire. It unwraps to
// the matching sentinel of package types.
type RemoteError struct {
	Kind    error
	Code    codes.Code
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// FromStatus rebuilds a backplane error from a failed call and its trailer.
// Errors without a kind, such as transport failures, are returned as is.
func FromStatus(err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}
	vals := trailer.Get(ErrorKindKey)
	if len(vals) == 0 {
		return err
	}
	kind := types.KindError(vals[0])
	if kind == nil {
		return err
	}
	st := status.Convert(err)
	return &RemoteError{Kind: kind, Code: st.Code(), Message: st.Message()}
}
