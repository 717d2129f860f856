package rpc

import (
	"context"
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/shop-ledger/internal/ledger"
	"github.com/example/shop-ledger/internal/security"
)

// toStatus maps ledger errors onto gRPC codes. Validation failures carry a
// BadRequest detail naming the field.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var ve *ledger.ValidationError
	switch {
	case errors.As(err, &ve):
		st := status.New(codes.InvalidArgument, ve.Error())
		if ve.Field != "" {
			if withDetail, derr := st.WithDetails(&errdetails.BadRequest{
				FieldViolations: []*errdetails.BadRequest_FieldViolation{{Field: ve.Field, Description: ve.Message}},
			}); derr == nil {
				st = withDetail
			}
		}
		return st.Err()
	case errors.Is(err, ledger.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ledger.ErrStore):
		return status.Error(codes.Unavailable, "store unavailable")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// FieldViolation returns the field named by an InvalidArgument status, if any.
func FieldViolation(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if br, ok := d.(*errdetails.BadRequest); ok && len(br.FieldViolations) > 0 {
			return br.FieldViolations[0].Field
		}
	}
	return ""
}

func (s *Server) fail(ctx context.Context, err error) error {
	out := toStatus(err)
	switch status.Code(out) {
	case codes.Internal, codes.Unavailable:
		s.logger.ErrorContext(ctx, "grpc call failed",
			"cid", security.CorrelationIDFromContext(ctx),
			"error", err,
		)
	}
	return out
}
