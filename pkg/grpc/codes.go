package grpc

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

// ErrorDomain is the ErrorInfo domain attached to rejections.
const ErrorDomain = "chaos.mockd.io"

// CodeForHTTPStatus maps an injected HTTP status to a gRPC code. Statuses
// without a natural equivalent map to Internal.
func CodeForHTTPStatus(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// CodeForRejection maps a pipeline rejection to a gRPC code.
func CodeForRejection(rej *chaos.Rejection) codes.Code {
	switch rej.Reason {
	case chaos.ReasonRateLimitExceeded:
		return codes.ResourceExhausted
	case chaos.ReasonCircuitOpen, chaos.ReasonBulkheadRejected, chaos.ReasonConnectionThrottled:
		return codes.Unavailable
	case chaos.ReasonPacketDropped, chaos.ReasonTimeout:
		return codes.DeadlineExceeded
	default:
		return CodeForHTTPStatus(rej.StatusCode)
	}
}

// StatusForError converts a pipeline error into a gRPC status. Rejections
// carry an ErrorInfo detail with the reason, plus RetryInfo when the
// pipeline knows when to retry. Context errors keep their usual codes.
func StatusForError(err error) *status.Status {
	rej, ok := chaos.AsRejection(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return status.New(codes.DeadlineExceeded, err.Error())
		}
		return status.New(codes.Canceled, err.Error())
	}

	st := status.New(CodeForRejection(rej), rej.Error())
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{
		Reason: string(rej.Reason),
		Domain: ErrorDomain,
		Metadata: map[string]string{
			"detail": rej.Detail,
		},
	}}
	if rej.RetryAfter > 0 {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(rej.RetryAfter)})
	}
	if withDetails, err := st.WithDetails(details...); err == nil {
		st = withDetails
	}
	return st
}

// OutcomeForCode classifies a handler's status code for the circuit breaker.
func OutcomeForCode(code codes.Code) chaos.Outcome {
	switch code {
	case codes.OK:
		return chaos.OutcomeSuccess
	case codes.Unavailable, codes.Internal, codes.Unknown, codes.DataLoss, codes.DeadlineExceeded:
		return chaos.OutcomeFailure
	default:
		return chaos.OutcomeNeutral
	}
}
