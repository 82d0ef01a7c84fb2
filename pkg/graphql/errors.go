package graphql

import (
	"context"
	"errors"
	"net/http"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/httputil"
)

// Error codes placed in extensions.code.
const (
	CodeBadUserInput        = "BAD_USER_INPUT"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeTimeout             = "TIMEOUT"
	CodeValidationFailed    = "GRAPHQL_VALIDATION_FAILED"
	CodeParseFailed         = "GRAPHQL_PARSE_FAILED"
)

var statusErrorCodes = map[int]string{
	http.StatusBadRequest:          CodeBadUserInput,
	http.StatusUnauthorized:        CodeUnauthenticated,
	http.StatusForbidden:           CodeForbidden,
	http.StatusNotFound:            CodeNotFound,
	http.StatusRequestTimeout:      CodeTimeout,
	http.StatusTooManyRequests:     CodeRateLimited,
	http.StatusInternalServerError: CodeInternalServerError,
	http.StatusServiceUnavailable:  CodeServiceUnavailable,
	http.StatusGatewayTimeout:      CodeTimeout,
}

// ErrorCodeForStatus maps an HTTP status to a GraphQL error code. Unknown
// statuses map to INTERNAL_SERVER_ERROR.
func ErrorCodeForStatus(status int) string {
	if code, ok := statusErrorCodes[status]; ok {
		return code
	}
	return CodeInternalServerError
}

// ErrorFor converts a pipeline error into a GraphQL error. Rejections keep
// their reason and retry hint in extensions; a context error becomes
// TIMEOUT or SERVICE_UNAVAILABLE.
func ErrorFor(err error) GraphQLError {
	rej, ok := chaos.AsRejection(err)
	if !ok {
		code := CodeServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		}
		return GraphQLError{
			Message:    err.Error(),
			Extensions: map[string]any{"code": code},
		}
	}

	status := chaos.StatusForRejection(rej)
	ext := map[string]any{
		"code":   ErrorCodeForStatus(status),
		"reason": string(rej.Reason),
		"status": status,
	}
	if s := httputil.Seconds(rej.RetryAfter); s > 0 {
		ext["retryAfterSeconds"] = s
	}
	return GraphQLError{Message: rej.Error(), Extensions: ext}
}

// clientErrorCodes are caused by the request itself and say nothing about
// the health of the backend.
var clientErrorCodes = map[string]bool{
	CodeBadUserInput:     true,
	CodeUnauthenticated:  true,
	CodeForbidden:        true,
	CodeNotFound:         true,
	CodeValidationFailed: true,
	CodeParseFailed:      true,
}

// OutcomeForResponse classifies a GraphQL response for the circuit breaker.
// Errors without data are a failure unless every error carries a client
// error code, in which case the outcome is neutral.
func OutcomeForResponse(resp *GraphQLResponse) chaos.Outcome {
	if resp == nil {
		return chaos.OutcomeFailure
	}
	if len(resp.Errors) == 0 || resp.Data != nil {
		return chaos.OutcomeSuccess
	}
	for _, e := range resp.Errors {
		code, _ := e.Extensions["code"].(string)
		if !clientErrorCodes[code] {
			return chaos.OutcomeFailure
		}
	}
	return chaos.OutcomeNeutral
}
