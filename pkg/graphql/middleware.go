package graphql

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getmockd/mockd-chaos/pkg/chaos"
	"github.com/getmockd/mockd-chaos/pkg/httputil"
	"github.com/getmockd/mockd-chaos/pkg/logging"
	"github.com/getmockd/mockd-chaos/pkg/ratelimit"
)

// Middleware gates GraphQL-over-HTTP requests through ChaosHooks. Rejections
// are written as HTTP 200 GraphQL error responses carrying extensions.code.
type Middleware struct {
	next     http.Handler
	hooks    *ChaosHooks
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

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MiddlewareOption {
	return func(m *Middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

// invalidOperation routes requests that are not GraphQL over HTTP at all.
var invalidOperation = Operation{Type: "invalid", Name: "anonymous"}

// NewMiddleware wraps next, a GraphQL endpoint, with hooks.
func NewMiddleware(next http.Handler, hooks *ChaosHooks, opts ...MiddlewareOption) *Middleware {
	m := &Middleware{
		next:   next,
		hooks:  hooks,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ServeHTTP implements http.Handler.
func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !m.hooks.Enabled() {
		m.next.ServeHTTP(w, r)
		return
	}

	req, bodySize, err := parseRequest(r)
	if errors.Is(err, ErrBodyTooLarge) {
		httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, &GraphQLResponse{Errors: []GraphQLError{badRequestError(err.Error())}})
		return
	}

	// Malformed requests are gated like any other and the endpoint reports
	// the problem.
	op := invalidOperation
	if err != nil {
		m.logger.Debug("graphql request not parsed", "error", err)
	} else if op, err = ParseOperation(req); err != nil {
		m.logger.Debug("graphql operation not parsed", "error", err)
	}

	ctx := r.Context()

	guards, err := m.hooks.BeforeOperation(ctx, m.clientIP.ClientIP(r), op, bodySize)
	if err != nil {
		if rej, ok := chaos.AsRejection(err); ok {
			w.Header().Set(chaos.HeaderChaosReason, string(rej.Reason))
		}
		httputil.WriteJSON(w, http.StatusOK, &GraphQLResponse{Errors: []GraphQLError{ErrorFor(err)}})
		return
	}
	defer guards.Release()

	bw := chaos.NewBufferedWriter()
	m.next.ServeHTTP(bw, r.WithContext(chaos.ContextWithGuards(ctx, guards)))

	decision := m.hooks.AfterOperation(ctx, guards, outcomeForBody(bw.Status(), bw.Bytes()), bw.Len())
	if decision.Truncate {
		w.Header().Set(chaos.HeaderChaosReason, "truncated")
	}
	if err := bw.CopyTo(w, decision.Truncate); err != nil {
		m.logger.Debug("response write failed", "route", op.RouteKey(), "error", err)
	}
}

// outcomeForBody classifies a buffered endpoint response. A 5xx is always a
// failure; a body that is not a GraphQL response is neutral.
func outcomeForBody(status int, body []byte) chaos.Outcome {
	if status >= http.StatusInternalServerError {
		return chaos.OutcomeFailure
	}
	var resp GraphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return chaos.OutcomeNeutral
	}
	return OutcomeForResponse(&resp)
}
