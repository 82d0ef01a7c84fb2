package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
)

// CloseCode represents a WebSocket close status code per RFC 6455. Error
// frames carry one so clients can react as they would to a real close.
type CloseCode int

const (
	CloseNormalClosure   CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	ClosePolicyViolation CloseCode = 1008
	CloseInternalError   CloseCode = 1011
	CloseTryAgainLater   CloseCode = 1013
)

// StatusCode converts to the coder/websocket type.
func (c CloseCode) StatusCode() ws.StatusCode {
	return ws.StatusCode(c)
}

// ErrorFrame is sent in place of a reply when a message is rejected. The
// connection stays open.
type ErrorFrame struct {
	Type   string    `json:"type"`
	Code   CloseCode `json:"code"`
	Reason string    `json:"reason"`
	// Message is the rejection detail.
	Message string `json:"message,omitempty"`
	// RetryAfterMs is set when the pipeline knows when to retry.
	RetryAfterMs int64 `json:"retryAfterMs,omitempty"`
}

// CloseCodeForRejection maps a rejection to the close code reported in its
// error frame.
func CloseCodeForRejection(rej *chaos.Rejection) CloseCode {
	switch rej.Reason {
	case chaos.ReasonRateLimitExceeded:
		return ClosePolicyViolation
	case chaos.ReasonCircuitOpen, chaos.ReasonBulkheadRejected, chaos.ReasonConnectionThrottled:
		return CloseTryAgainLater
	case chaos.ReasonTimeout:
		return CloseGoingAway
	}
	if rej.StatusCode >= http.StatusBadRequest && rej.StatusCode < http.StatusInternalServerError {
		return ClosePolicyViolation
	}
	return CloseInternalError
}

// NewErrorFrame builds the frame for a rejection.
func NewErrorFrame(rej *chaos.Rejection) ErrorFrame {
	return ErrorFrame{
		Type:         "error",
		Code:         CloseCodeForRejection(rej),
		Reason:       string(rej.Reason),
		Message:      rej.Detail,
		RetryAfterMs: rej.RetryAfter.Milliseconds(),
	}
}
