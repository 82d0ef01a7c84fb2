package chaos

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/getmockd/mockd-chaos/pkg/httputil"
	"github.com/getmockd/mockd-chaos/pkg/logging"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// Response headers set by the HTTP adapter.
const (
	HeaderRequestID          = "X-Request-Id"
	HeaderChaosReason        = "X-Chaos-Reason"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// maxMeasuredBody bounds how much of a body of unknown length is read ahead
// to size it for request throttling.
const maxMeasuredBody = 8 << 20

// Middleware wraps an http.Handler with the resilience pipeline.
type Middleware struct {
	handler  http.Handler
	gate     Gate
	clientIP *ratelimit.ClientIPResolver
	logger   *slog.Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware)

// WithClientIPResolver sets how client keys are derived from requests.
func WithClientIPResolver(r *ratelimit.ClientIPResolver) MiddlewareOption {
	return func(m *Middleware) {
		m.clientIP = r
	}
}

// WithMiddlewareLogger sets the request logger.
func WithMiddlewareLogger(l *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMiddleware creates a new pipeline middleware around handler.
func NewMiddleware(handler http.Handler, gate Gate, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		handler: handler,
		gate:    gate,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap returns a middleware constructor, for use in handler chains.
func Wrap(gate Gate, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewMiddleware(next, gate, opts...)
	}
}

// ServeHTTP implements http.Handler.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		r.Header.Set(HeaderRequestID, requestID)
	}
	w.Header().Set(HeaderRequestID, requestID)

	if m.gate == nil {
		m.handler.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	bodySize, err := requestBodySize(r)
	if err != nil {
		m.logger.Debug("request body not readable", "request_id", requestID, "error", err)
		httputil.WriteError(w, http.StatusBadRequest, "invalid_body", "request body could not be read")
		return
	}

	guards, err := m.gate.Before(ctx, RequestInfo{
		ClientKey: m.clientIP.ClientIP(r),
		RouteKey:  r.URL.Path,
		BodySize:  bodySize,
	})
	if err != nil {
		m.writeRejection(w, r, requestID, err)
		return
	}
	defer guards.Release()

	setRateLimitHeaders(w.Header(), guards.RateLimit)

	bw := NewBufferedWriter()
	m.handler.ServeHTTP(bw, r.WithContext(ContextWithGuards(ctx, guards)))

	decision := m.gate.After(ctx, guards, ResponseInfo{
		Outcome:  OutcomeForStatus(bw.Status()),
		BodySize: bw.Len(),
	})
	if decision.Truncate {
		w.Header().Set(HeaderChaosReason, "truncated")
	}
	if err := bw.CopyTo(w, decision.Truncate); err != nil {
		m.logger.Debug("response write failed", "request_id", requestID, "error", err)
	}
}

func (m *Middleware) writeRejection(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	rej, ok := AsRejection(err)
	if !ok {
		// The only non-rejection errors come from ctx ending mid-suspension.
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		m.logger.Debug("request ended during injected delay",
			"request_id", requestID,
			"path", r.URL.Path,
			"error", err,
		)
		httputil.WriteError(w, status, "request_cancelled", err.Error())
		return
	}

	h := w.Header()
	h.Set(HeaderChaosReason, string(rej.Reason))
	httputil.SetRetryAfter(h, rej.RetryAfter)
	if rej.Reason == ReasonRateLimitExceeded {
		h.Set(HeaderRateLimitRemaining, "0")
		h.Set(HeaderRateLimitReset, strconv.FormatInt(httputil.Seconds(rej.RetryAfter), 10))
	}
	httputil.WriteError(w, StatusForRejection(rej), string(rej.Reason), rej.Detail)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// requestBodySize returns the size of r's body. A declared Content-Length is
// trusted since the server enforces it. A body of unknown length, such as a
// chunked upload, is read ahead up to maxMeasuredBody and put back on r.
func requestBodySize(r *http.Request) (int, error) {
	if r.ContentLength >= 0 {
		return int(r.ContentLength), nil
	}
	if r.Body == nil || r.Body == http.NoBody {
		return 0, nil
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, maxMeasuredBody))
	if err != nil {
		return 0, err
	}
	r.Body = readCloser{io.MultiReader(bytes.NewReader(head), r.Body), r.Body}
	return len(head), nil
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderRateLimitReset, strconv.FormatInt(httputil.Seconds(d.Reset), 10))
}

// StatusForRejection returns the HTTP status for a rejection: 429 for rate
// limiting, 503 for breaker, bulkhead and connection limits, 408 for a
// simulated drop, 504 for a timeout and the injected code for a fault.
// Injected codes outside 400-599 become 500.
func StatusForRejection(rej *Rejection) int {
	switch rej.Reason {
	case ReasonRateLimitExceeded:
		return http.StatusTooManyRequests
	case ReasonCircuitOpen, ReasonBulkheadRejected, ReasonConnectionThrottled:
		return http.StatusServiceUnavailable
	case ReasonPacketDropped:
		return http.StatusRequestTimeout
	case ReasonTimeout:
		return http.StatusGatewayTimeout
	}
	if isErrorStatus(rej.StatusCode) {
		return rej.StatusCode
	}
	return http.StatusInternalServerError
}

// OutcomeForStatus classifies an HTTP status: 5xx is a failure, 2xx a
// success, anything else neutral.
func OutcomeForStatus(status int) Outcome {
	switch {
	case status >= 500:
		return OutcomeFailure
	case status >= 200 && status < 300:
		return OutcomeSuccess
	default:
		return OutcomeNeutral
	}
}
